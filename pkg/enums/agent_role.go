package enums

import "fmt"

// AgentRole is the staff role carried in an agent access token.
type AgentRole string

const (
	AgentRoleAgent      AgentRole = "agent"
	AgentRoleSupervisor AgentRole = "supervisor"
	AgentRoleOps        AgentRole = "ops"
)

var validAgentRoles = []AgentRole{
	AgentRoleAgent,
	AgentRoleSupervisor,
	AgentRoleOps,
}

func (a AgentRole) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AgentRole.
func (a AgentRole) IsValid() bool {
	for _, candidate := range validAgentRoles {
		if candidate == a {
			return true
		}
	}
	return false
}

func ParseAgentRole(value string) (AgentRole, error) {
	for _, candidate := range validAgentRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid agent role %q", value)
}
