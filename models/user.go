package models

import (
	"time"

	"bitbucket.org/stitchworks/tailor_backend/utils"
	"gorm.io/gorm"
)

type UserRole string

const (
	UserRoleAdmin   UserRole = "ADMIN"
	UserRoleManager UserRole = "MANAGER"
	UserRoleTailor  UserRole = "TAILOR"
	UserRoleSales   UserRole = "SALES"
)

// User exists here only for reference checks (tailor assignment).
// Authentication and authorization live outside this core.
type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Email     string    `gorm:"size:100;uniqueIndex;not null" json:"email"`
	Role      UserRole  `gorm:"type:enum('ADMIN','MANAGER','TAILOR','SALES');not null" json:"role"`
	Active    *bool     `gorm:"default:true" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetTailor loads a user and verifies the tailor capability.
func GetTailor(tx *gorm.DB, userId int) (*User, error) {
	var user User
	err := tx.First(&user, userId).Error
	if err == gorm.ErrRecordNotFound {
		return nil, utils.ErrorInvalidReference
	}
	if err != nil {
		return nil, err
	}
	if user.Role != UserRoleTailor {
		return nil, utils.ErrorInvalidAssignment
	}
	return &user, nil
}
