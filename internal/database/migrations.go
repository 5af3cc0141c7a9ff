package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/campuspilot/backend/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Role{},
		&models.OTPChallenge{},
		&models.RefreshToken{},
		&models.AuditLog{},
	)
}

// SeedRoles inserts the role catalogue consumed by downstream modules.
// Existing rows are left untouched so the seed is safe to run on every start.
func SeedRoles(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	roles := []models.Role{
		{BaseModel: models.BaseModel{ID: models.RoleAdmin}, Name: models.RoleAdmin, Description: "Full platform access", IsSystem: true},
		{BaseModel: models.BaseModel{ID: models.RoleStudent}, Name: models.RoleStudent, Description: "Course and admissions participant"},
		{BaseModel: models.BaseModel{ID: models.RoleInstructor}, Name: models.RoleInstructor, Description: "Course author and grader"},
		{BaseModel: models.BaseModel{ID: models.RoleEmployer}, Name: models.RoleEmployer, Description: "Job board publisher"},
		{BaseModel: models.BaseModel{ID: models.RoleStaff}, Name: models.RoleStaff, Description: "HR/CRM operator"},
	}

	for _, role := range roles {
		result := db.Where(models.Role{Name: role.Name}).FirstOrCreate(&role)
		if result.Error != nil {
			return fmt.Errorf("seed role %q: %w", role.Name, result.Error)
		}
	}

	return nil
}
