package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/saiset-co/sai-pipeline/database"
	"github.com/saiset-co/sai-pipeline/types"
	"github.com/saiset-co/sai-pipeline/utils"
)

var userColumns = []string{
	"id", "username", "email", "first_name", "last_name", "password_hash",
	"is_active", "is_verified", "created_at", "updated_at",
}

type UserRepository struct {
	*Base[User]
}

func NewUserRepository(db *database.Manager) *UserRepository {
	return &UserRepository{Base: NewBase[User](db, "users", "id", userColumns...)}
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.FilterOne(ctx, Filters{"username": username})
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.FilterOne(ctx, Filters{"email": email})
}

func (r *UserRepository) GetActive(ctx context.Context) ([]User, error) {
	return r.FilterBy(ctx, Filters{"is_active": true})
}

type NewUser struct {
	ID        string
	Username  string
	Email     string
	FirstName string
	LastName  string
	Password  string
}

func (r *UserRepository) Create(ctx context.Context, in NewUser) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, types.WrapError(err, "failed to hash password")
	}

	if in.ID == "" {
		in.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	user := &User{
		ID:           in.ID,
		Username:     in.Username,
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: string(hash),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	_, err = r.db.DB().NamedExecContext(ctx, `INSERT INTO users
		(id, username, email, first_name, last_name, password_hash, is_active, is_verified, created_at, updated_at)
		VALUES (:id, :username, :email, :first_name, :last_name, :password_hash, :is_active, :is_verified, :created_at, :updated_at)`, user)
	if err != nil {
		return nil, r.failed("insert", err)
	}

	return user, nil
}

// Authenticate checks the password of an active user. Unknown users and wrong
// passwords are both reported as ErrAuthentication.
func (r *UserRepository) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, err := r.FilterOne(ctx, Filters{"username": username, "is_active": true})
	if err != nil {
		if types.IsError(err, types.ErrRecordNotFound) {
			return nil, types.Errorf(types.ErrAuthentication, "invalid credentials")
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, types.Errorf(types.ErrAuthentication, "invalid credentials")
	}

	return user, nil
}

func (r *UserRepository) Deactivate(ctx context.Context, id string) (*User, error) {
	return r.Update(ctx, id, Filters{"is_active": false, "updated_at": time.Now().UTC()})
}

func (r *UserRepository) Verify(ctx context.Context, id string) (*User, error) {
	return r.Update(ctx, id, Filters{"is_verified": true, "updated_at": time.Now().UTC()})
}

// Memberships lists the active organizations of a user together with the
// role and permissions granted there.
func (r *UserRepository) Memberships(ctx context.Context, userID string) ([]OrgMembership, error) {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := r.db.Rebind(`SELECT o.*, uo.role, uo.permissions
		FROM user_organizations uo
		JOIN organizations o ON o.id = uo.organization_id
		WHERE uo.user_id = ? AND uo.is_active = ? AND o.is_active = ?
		ORDER BY uo.created_at`)

	var out []OrgMembership
	if err := r.db.DB().SelectContext(ctx, &out, query, userID, true, true); err != nil {
		return nil, r.failed("memberships", err)
	}

	return out, nil
}

// PermissionList decodes the JSON list stored with a membership.
func (m OrgMembership) PermissionList() []string {
	if !m.Permissions.Valid || m.Permissions.String == "" {
		return []string{}
	}

	var out []string
	if err := utils.Unmarshal([]byte(m.Permissions.String), &out); err != nil {
		return []string{}
	}

	return out
}
