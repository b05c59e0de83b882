package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adamscao/vpnaccess/internal/models"
)

// ErrRoleNotAllowed is returned when a user's role may not hold VPN access
var ErrRoleNotAllowed = errors.New("role not allowed to hold vpn access")

// Validator validates access requests against policy
type Validator struct {
	allowedRoles map[string]struct{}
}

// NewValidator creates a new policy validator. An empty role list allows
// every role.
func NewValidator(allowedRoles []string) *Validator {
	roles := make(map[string]struct{}, len(allowedRoles))
	for _, r := range allowedRoles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			roles[r] = struct{}{}
		}
	}
	return &Validator{allowedRoles: roles}
}

// ValidateIssueRequest checks that the user may be issued VPN access
func (v *Validator) ValidateIssueRequest(user *models.User) error {
	if len(v.allowedRoles) == 0 {
		return nil
	}

	if _, ok := v.allowedRoles[strings.ToLower(user.Role)]; !ok {
		return fmt.Errorf("%w: %q", ErrRoleNotAllowed, user.Role)
	}

	return nil
}

// AllowedRoles returns the configured roles
func (v *Validator) AllowedRoles() []string {
	roles := make([]string, 0, len(v.allowedRoles))
	for r := range v.allowedRoles {
		roles = append(roles, r)
	}
	return roles
}
