package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/angelmondragon/busline-backend/pkg/auth"
	"github.com/angelmondragon/busline-backend/pkg/config"
	"github.com/angelmondragon/busline-backend/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}

func mintTestToken(t *testing.T, cfg config.JWTConfig, agentID string, role enums.AgentRole, branchID string) string {
	t.Helper()
	token, err := auth.MintAgentToken(cfg, time.Now(), auth.AgentTokenPayload{
		AgentID:  agentID,
		Role:     role,
		BranchID: branchID,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestAgentAuthRejectsMissingToken(t *testing.T) {
	handler := AgentAuth(testJWT, nil)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAgentAuthRejectsInvalidToken(t *testing.T) {
	handler := AgentAuth(testJWT, nil)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAgentAuthSeedsContext(t *testing.T) {
	token := mintTestToken(t, testJWT, "agent-3", enums.AgentRoleAgent, "branch-7")

	var captured struct {
		agent  string
		role   string
		branch string
	}
	handler := AgentAuth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.agent = AgentIDFromContext(r.Context())
		captured.role = RoleFromContext(r.Context())
		captured.branch = BranchIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if captured.agent != "agent-3" {
		t.Fatalf("expected agent-3 got %q", captured.agent)
	}
	if captured.role != string(enums.AgentRoleAgent) {
		t.Fatalf("expected role agent got %q", captured.role)
	}
	if captured.branch != "branch-7" {
		t.Fatalf("expected branch-7 got %q", captured.branch)
	}
}

func TestRequireRole(t *testing.T) {
	allowed := RequireRole(nil, enums.AgentRoleAgent, enums.AgentRoleSupervisor)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithRole(req.Context(), string(enums.AgentRoleSupervisor)))
	resp := httptest.NewRecorder()
	allowed.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithRole(req.Context(), string(enums.AgentRoleOps)))
	resp = httptest.NewRecorder()
	allowed.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}
