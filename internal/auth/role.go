package auth

import (
	"strings"
)

// Role represents a principal's permission tier.
type Role string

const (
	// RoleAdminMaster is the platform operator.
	RoleAdminMaster Role = "admin_master"
	// RoleAdminTenant administers a single company.
	RoleAdminTenant Role = "admin_tenant"
	// RoleInspector is the field worker executing inspections.
	RoleInspector Role = "inspector"
)

// legacyRoleAdmin is the collapsed two-value enumeration still written by older call sites.
const legacyRoleAdmin = "admin"

// roleTable maps every accepted raw value onto its canonical Role. Legacy entries are
// listed explicitly so that the mapping stays auditable.
var roleTable = map[string]roleMapping{
	string(RoleAdminMaster): {role: RoleAdminMaster},
	string(RoleAdminTenant): {role: RoleAdminTenant},
	string(RoleInspector):   {role: RoleInspector},
	legacyRoleAdmin:         {role: RoleAdminTenant, legacy: true},
}

type roleMapping struct {
	role   Role
	legacy bool
}

// RoleValue is the outcome of mapping a raw role string onto the canonical enumeration.
type RoleValue struct {
	Role   Role
	Raw    string
	Legacy bool
	Known  bool
}

// ParseRole maps a raw role value onto the canonical enumeration. Unknown values
// report Known=false and an empty Role; callers decide how to degrade.
func ParseRole(raw string) RoleValue {
	normalised := strings.ToLower(strings.TrimSpace(raw))
	value := RoleValue{Raw: strings.TrimSpace(raw)}
	if normalised == "" {
		return value
	}
	mapping, ok := roleTable[normalised]
	if !ok {
		return value
	}
	value.Role = mapping.role
	value.Legacy = mapping.legacy
	value.Known = true
	return value
}

// Valid reports whether the role is one of the canonical values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdminMaster, RoleAdminTenant, RoleInspector:
		return true
	default:
		return false
	}
}

// IsAdmin reports whether the role belongs to the administrative tiers.
func (r Role) IsAdmin() bool {
	return r == RoleAdminMaster || r == RoleAdminTenant
}

// RequiresCompany reports whether a principal with this role must be linked to a company
// before reaching its dashboard.
func (r Role) RequiresCompany() bool {
	return r == RoleAdminTenant
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// Roles captures a list of roles and exposes membership checks used by guards.
type Roles []Role

// Has returns true if the provided role exists in the set.
func (rs Roles) Has(role Role) bool {
	for _, r := range rs {
		if r == role {
			return true
		}
	}
	return false
}

// NormaliseRoles converts raw role strings into canonical roles, dropping values that do
// not map and collapsing duplicates.
func NormaliseRoles(raw []string) Roles {
	if len(raw) == 0 {
		return nil
	}
	seen := make(map[Role]struct{}, len(raw))
	roles := make(Roles, 0, len(raw))
	for _, val := range raw {
		parsed := ParseRole(val)
		if !parsed.Known {
			continue
		}
		if _, ok := seen[parsed.Role]; ok {
			continue
		}
		seen[parsed.Role] = struct{}{}
		roles = append(roles, parsed.Role)
	}
	return roles
}
