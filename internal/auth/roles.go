package auth

// Operator role constants.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

// WriteRoles returns roles that can trigger repairs and replays.
func WriteRoles() []string {
	return []string{RoleOperator}
}
