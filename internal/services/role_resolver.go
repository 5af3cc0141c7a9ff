package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/campuspilot/backend/internal/models"
)

// RoleResolver maps a user to role names for downstream authorization.
// The auth subsystem consumes it when building the request principal; the
// CRUD modules own role administration.
type RoleResolver struct {
	db *gorm.DB
}

// NewRoleResolver constructs a resolver using the provided database handle.
func NewRoleResolver(db *gorm.DB) (*RoleResolver, error) {
	if db == nil {
		return nil, errors.New("role resolver: db is required")
	}
	return &RoleResolver{db: db}, nil
}

// RolesForUser returns the role names assigned to the user, sorted by name.
func (r *RoleResolver) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("role resolver: user id is required")
	}

	var names []string
	if err := r.db.WithContext(ctx).
		Model(&models.Role{}).
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ?", userID).
		Order("roles.name").
		Pluck("roles.name", &names).Error; err != nil {
		return nil, fmt.Errorf("role resolver: load roles: %w", err)
	}

	return names, nil
}

// HasRole reports whether the user holds the named role.
func (r *RoleResolver) HasRole(ctx context.Context, userID, role string) (bool, error) {
	names, err := r.RolesForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, name := range names {
		if name == role {
			return true, nil
		}
	}
	return false, nil
}
