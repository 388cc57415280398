package rbac

import (
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

type Permission string

// Org-scoped permissions checked by the API guards.
const (
	PermIssuesView     Permission = "escalations.view"
	PermSitesManage    Permission = "sites.manage"
	PermSettingsView   Permission = "settings.view"
	PermSettingsManage Permission = "settings.manage"
	PermCooldownsClear Permission = "cooldowns.clear"
)

const modelText = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj
`

// Policy maps org roles to permissions. The role hierarchy is fixed:
// admin inherits operator, operator inherits viewer.
type Policy struct {
	enforcer *casbin.Enforcer
}

func NewPolicy() (*Policy, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	rules := [][]string{
		{"viewer", string(PermIssuesView)},
		{"viewer", string(PermSettingsView)},
		{"operator", string(PermSitesManage)},
		{"admin", string(PermSettingsManage)},
		{"admin", string(PermCooldownsClear)},
	}
	for _, rule := range rules {
		if _, err := e.AddPolicy(rule[0], rule[1]); err != nil {
			return nil, err
		}
	}
	groupings := [][]string{
		{"admin", "operator"},
		{"operator", "viewer"},
	}
	for _, g := range groupings {
		if _, err := e.AddGroupingPolicy(g[0], g[1]); err != nil {
			return nil, err
		}
	}
	return &Policy{enforcer: e}, nil
}

// Allowed reports whether the role carries the permission.
func (p *Policy) Allowed(role string, perm Permission) bool {
	if p == nil || p.enforcer == nil {
		return false
	}
	ok, err := p.enforcer.Enforce(role, string(perm))
	return err == nil && ok
}
