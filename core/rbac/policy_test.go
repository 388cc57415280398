package rbac

import "testing"

func TestRoleHierarchy(t *testing.T) {
	policy, err := NewPolicy()
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	cases := []struct {
		role string
		perm Permission
		want bool
	}{
		{"viewer", PermIssuesView, true},
		{"viewer", PermSettingsView, true},
		{"viewer", PermSitesManage, false},
		{"viewer", PermSettingsManage, false},
		{"operator", PermIssuesView, true},
		{"operator", PermSitesManage, true},
		{"operator", PermSettingsManage, false},
		{"operator", PermCooldownsClear, false},
		{"admin", PermIssuesView, true},
		{"admin", PermSitesManage, true},
		{"admin", PermSettingsManage, true},
		{"admin", PermCooldownsClear, true},
		{"intruder", PermIssuesView, false},
		{"", PermIssuesView, false},
	}
	for _, tc := range cases {
		if got := policy.Allowed(tc.role, tc.perm); got != tc.want {
			t.Errorf("Allowed(%q, %q) = %v, want %v", tc.role, tc.perm, got, tc.want)
		}
	}
}
