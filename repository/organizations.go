package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/saiset-co/sai-pipeline/database"
	"github.com/saiset-co/sai-pipeline/utils"
)

var organizationColumns = []string{
	"id", "name", "slug", "description", "is_active", "is_public", "created_at", "updated_at",
}

type OrganizationRepository struct {
	*Base[Organization]
}

func NewOrganizationRepository(db *database.Manager) *OrganizationRepository {
	return &OrganizationRepository{Base: NewBase[Organization](db, "organizations", "id", organizationColumns...)}
}

func (r *OrganizationRepository) GetBySlug(ctx context.Context, slug string) (*Organization, error) {
	return r.FilterOne(ctx, Filters{"slug": slug})
}

func (r *OrganizationRepository) GetActive(ctx context.Context) ([]Organization, error) {
	return r.FilterBy(ctx, Filters{"is_active": true})
}

func (r *OrganizationRepository) GetPublic(ctx context.Context) ([]Organization, error) {
	return r.FilterBy(ctx, Filters{"is_active": true, "is_public": true})
}

func (r *OrganizationRepository) Create(ctx context.Context, id, name, slug, description string) (*Organization, error) {
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	org := &Organization{
		ID:          id,
		Name:        name,
		Slug:        slug,
		Description: nullString(description),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	_, err := r.db.DB().NamedExecContext(ctx, `INSERT INTO organizations
		(id, name, slug, description, is_active, is_public, created_at, updated_at)
		VALUES (:id, :name, :slug, :description, :is_active, :is_public, :created_at, :updated_at)`, org)
	if err != nil {
		return nil, r.failed("insert", err)
	}

	return org, nil
}

func (r *OrganizationRepository) SetPublic(ctx context.Context, id string, public bool) (*Organization, error) {
	return r.Update(ctx, id, Filters{"is_public": public, "updated_at": time.Now().UTC()})
}

func (r *OrganizationRepository) Deactivate(ctx context.Context, id string) (*Organization, error) {
	return r.Update(ctx, id, Filters{"is_active": false, "updated_at": time.Now().UTC()})
}

// AddMember grants a user a role and permission set inside an organization.
func (r *OrganizationRepository) AddMember(ctx context.Context, orgID, userID, role string, permissions []string) error {
	encoded, err := utils.Marshal(permissions)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	member := Membership{
		ID:             uuid.NewString(),
		UserID:         userID,
		OrganizationID: orgID,
		Role:           role,
		Permissions:    nullString(string(encoded)),
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	_, err = r.db.DB().NamedExecContext(ctx, `INSERT INTO user_organizations
		(id, user_id, organization_id, role, permissions, is_active, created_at, updated_at)
		VALUES (:id, :user_id, :organization_id, :role, :permissions, :is_active, :created_at, :updated_at)`, member)
	if err != nil {
		return r.failed("insert membership", err)
	}

	return nil
}
