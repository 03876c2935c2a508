package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is an account. Superusers bypass all access checks.
type User struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	Email        string `gorm:"type:varchar(255);not null;uniqueIndex:idx_users_email" json:"email"`
	Username     string `gorm:"type:varchar(100);not null;uniqueIndex:idx_users_username" json:"username"`
	FullName     string `gorm:"type:varchar(255)" json:"fullName,omitempty"`
	PasswordHash string `gorm:"type:varchar(255)" json:"-"`

	IsActive    bool `gorm:"not null;default:true" json:"isActive"`
	IsSuperuser bool `gorm:"not null;default:false" json:"isSuperuser"`

	Roles []Role `gorm:"many2many:user_roles;" json:"roles,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName specifies the table name.
func (User) TableName() string {
	return "users"
}

// BeforeCreate assigns an id and validates identity fields.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Email == "" {
		return fmt.Errorf("email is required")
	}
	if u.Username == "" {
		return fmt.Errorf("username is required")
	}
	return nil
}

// HasPermission reports whether any of the user's roles grants the named
// permission. Superusers hold every permission implicitly.
func (u *User) HasPermission(name string) bool {
	if u.IsSuperuser {
		return true
	}
	for _, role := range u.Roles {
		for _, perm := range role.Permissions {
			if perm.Name == name {
				return true
			}
		}
	}
	return false
}

// Role groups permissions; users hold roles many-to-many.
type Role struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	Name        string `gorm:"type:varchar(100);not null;uniqueIndex:idx_roles_name" json:"name"`
	Description string `gorm:"type:varchar(255)" json:"description,omitempty"`

	Permissions []Permission `gorm:"many2many:role_permissions;" json:"permissions,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName specifies the table name.
func (Role) TableName() string {
	return "roles"
}

// BeforeCreate assigns an id.
func (r *Role) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Name == "" {
		return fmt.Errorf("role name is required")
	}
	return nil
}

// Permission is a named capability attached to roles.
type Permission struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	Name        string `gorm:"type:varchar(100);not null;uniqueIndex:idx_permissions_name" json:"name"`
	Description string `gorm:"type:varchar(255)" json:"description,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName specifies the table name.
func (Permission) TableName() string {
	return "permissions"
}

// BeforeCreate assigns an id.
func (p *Permission) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Name == "" {
		return fmt.Errorf("permission name is required")
	}
	return nil
}
