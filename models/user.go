package models

import "gorm.io/gorm"

const (
	RoleEmployee = "employee"
	RoleAdmin    = "admin"
	RoleChecker  = "checker"
)

type User struct {
	gorm.Model
	Name         string `gorm:"not null"`
	Email        string `gorm:"unique;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"default:employee"` // employee, admin, checker
	Team         string
}
