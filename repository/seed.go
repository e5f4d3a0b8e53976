package repository

import (
	"context"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/types"
)

const (
	DemoUserID   = "user-456"
	DemoUsername = "demo_user"
	DemoPassword = "demo_password"
	DemoOrgID    = "org-789"
	DemoOrgSlug  = "demo-org"
)

var DemoPermissions = []string{"org:read", "user:read", "greeting:write"}

// SeedDemo provisions the demo account used by the login flow. It is a no-op
// when the user already exists.
func SeedDemo(ctx context.Context, users *UserRepository, orgs *OrganizationRepository, logger types.Logger) error {
	exists, err := users.Exists(ctx, Filters{"username": DemoUsername})
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if _, err := users.Create(ctx, NewUser{
		ID:        DemoUserID,
		Username:  DemoUsername,
		Email:     "demo@example.com",
		FirstName: "Demo",
		LastName:  "User",
		Password:  DemoPassword,
	}); err != nil {
		return err
	}

	if _, err := orgs.Create(ctx, DemoOrgID, "Demo Organization", DemoOrgSlug, "Demo tenant"); err != nil {
		return err
	}

	if err := orgs.AddMember(ctx, DemoOrgID, DemoUserID, "member", DemoPermissions); err != nil {
		return err
	}

	logger.Info("Demo account seeded", zap.String("username", DemoUsername), zap.String("org_slug", DemoOrgSlug))

	return nil
}
