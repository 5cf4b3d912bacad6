package user

import (
	"errors"
	"time"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

type User struct {
	ID                 string
	Email              string
	PasswordHash       string
	Role               Role
	TwoFactorEnabled   bool
	TwoFactorSecret    string
	BackupCodes        string
	BackupCodesVersion int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

var (
	ErrNotFound    = errors.New("user not found")
	ErrEmailTaken  = errors.New("email already in use")
	ErrAdminExists = errors.New("an admin already exists")
)
