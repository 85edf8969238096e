package auth

import "strings"

// Routes names the destinations used by the redirect policy.
type Routes struct {
	Login              string
	MasterDashboard    string
	AdminDashboard     string
	CompanySetup       string
	InspectorDashboard string
}

// DefaultRoutes returns the console's built-in routes.
func DefaultRoutes() Routes {
	return Routes{
		Login:              "/login",
		MasterDashboard:    "/master/dashboard",
		AdminDashboard:     "/admin/dashboard",
		CompanySetup:       "/company-setup",
		InspectorDashboard: "/inspector/dashboard",
	}
}

func (r Routes) withDefaults() Routes {
	def := DefaultRoutes()
	pick := func(val, fallback string) string {
		if strings.TrimSpace(val) == "" {
			return fallback
		}
		return strings.TrimSpace(val)
	}
	return Routes{
		Login:              pick(r.Login, def.Login),
		MasterDashboard:    pick(r.MasterDashboard, def.MasterDashboard),
		AdminDashboard:     pick(r.AdminDashboard, def.AdminDashboard),
		CompanySetup:       pick(r.CompanySetup, def.CompanySetup),
		InspectorDashboard: pick(r.InspectorDashboard, def.InspectorDashboard),
	}
}

// RedirectPolicy maps a resolved role onto its landing route. The login flow and every guard
// share one instance so that a deep link is treated exactly like a fresh sign-in.
type RedirectPolicy struct {
	routes Routes
}

// NewRedirectPolicy constructs a policy. Empty routes fall back to DefaultRoutes.
func NewRedirectPolicy(routes Routes) RedirectPolicy {
	return RedirectPolicy{routes: routes.withDefaults()}
}

// Routes returns the configured routes.
func (p RedirectPolicy) Routes() Routes {
	return p.routes.withDefaults()
}

// Target returns the landing route for role.
func (p RedirectPolicy) Target(role Role, hasCompany bool) string {
	routes := p.Routes()
	switch role {
	case RoleAdminMaster:
		return routes.MasterDashboard
	case RoleAdminTenant:
		if !hasCompany {
			return routes.CompanySetup
		}
		return routes.AdminDashboard
	case RoleInspector:
		return routes.InspectorDashboard
	default:
		return routes.Login
	}
}

// TargetForRaw maps an unparsed role value, accepting legacy values.
func (p RedirectPolicy) TargetForRaw(raw string, hasCompany bool) string {
	value := ParseRole(raw)
	if !value.Known {
		return p.Routes().Login
	}
	return p.Target(value.Role, hasCompany)
}

// TargetFor returns the landing route for a resolution.
func (p RedirectPolicy) TargetFor(res Resolution) string {
	return p.Target(res.Role, res.HasCompany)
}
