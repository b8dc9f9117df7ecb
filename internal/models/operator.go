package models

import (
	"time"
)

// Operator represents one human account allowed to use the gateway API.
// Operators are carried in configuration, not a database; the daemon itself
// holds no accounts.
type Operator struct {
	ID             string   `json:"id"`
	Email          string   `json:"email"`
	HashedPassword string   `json:"-"` // Never expose in JSON
	Roles          []string `json:"roles"`
}

// LoginRequest represents authentication request payload
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents authentication response with JWT token
type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	Operator  OperatorInfo `json:"operator"`
}

// OperatorInfo represents safe operator information (without sensitive data)
type OperatorInfo struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

// ToOperatorInfo converts Operator to OperatorInfo (safe for API responses)
func (o *Operator) ToOperatorInfo() OperatorInfo {
	return OperatorInfo{
		ID:    o.ID,
		Email: o.Email,
		Roles: o.Roles,
	}
}
