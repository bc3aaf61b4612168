package auth

import (
	"github.com/angelmondragon/busline-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
)

// AgentTokenPayload captures the data available when minting an agent JWT.
type AgentTokenPayload struct {
	AgentID  string
	Role     enums.AgentRole
	BranchID string
	JTI      string
}

// AgentClaims is the typed JWT presented by sales agents and supervisors.
type AgentClaims struct {
	AgentID  string          `json:"agent_id"`
	Role     enums.AgentRole `json:"role"`
	BranchID string          `json:"branch_id,omitempty"`
	jwt.RegisteredClaims
}
