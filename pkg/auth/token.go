package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/busline-backend/pkg/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// MintAgentToken issues a signed agent JWT valid for the configured TTL.
func MintAgentToken(cfg config.JWTConfig, now time.Time, payload AgentTokenPayload) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	if cfg.Issuer == "" {
		return "", fmt.Errorf("jwt issuer is required")
	}
	if cfg.ExpirationMinutes <= 0 {
		return "", fmt.Errorf("jwt expiration minutes must be positive")
	}
	agentID := strings.TrimSpace(payload.AgentID)
	if agentID == "" {
		return "", fmt.Errorf("agent id is required")
	}
	if !payload.Role.IsValid() {
		return "", fmt.Errorf("invalid agent role %q", payload.Role)
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}

	claims := AgentClaims{
		AgentID:  agentID,
		Role:     payload.Role,
		BranchID: payload.BranchID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseAgentToken validates signature, issuer and expiry and returns typed
// claims. Tokens without an agent id or with an unknown role are rejected.
func ParseAgentToken(cfg config.JWTConfig, tokenString string) (*AgentClaims, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	claims := &AgentClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.AgentID) == "" {
		return nil, fmt.Errorf("agent id claim missing")
	}
	if !claims.Role.IsValid() {
		return nil, fmt.Errorf("invalid agent role %q", claims.Role)
	}
	return claims, nil
}
