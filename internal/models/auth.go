package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin    UserRole = "ADMIN"
	RoleMentor   UserRole = "MENTOR"
	RoleMinistry UserRole = "MINISTRY"
)

// JWTClaims represents the JWT payload for access tokens issued by the
// authentication portal. This service only verifies and reads them.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}
