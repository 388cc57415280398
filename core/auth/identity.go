package auth

import (
	"context"

	"hexascan/core/store"
)

type contextKey string

// OrgContextKey carries the authenticated org identity on API requests.
const OrgContextKey contextKey = "hexascan.org"

// SiteContextKey carries the authenticated agent's site on agent requests.
const SiteContextKey contextKey = "hexascan.site"

// OrgIdentity is the org-console caller: which organization, acting as
// which role.
type OrgIdentity struct {
	OrganizationID int64
	Role           string
	Email          string
}

func OrgFromContext(ctx context.Context) *OrgIdentity {
	if v := ctx.Value(OrgContextKey); v != nil {
		return v.(*OrgIdentity)
	}
	return nil
}

func SiteFromContext(ctx context.Context) *store.Site {
	if v := ctx.Value(SiteContextKey); v != nil {
		return v.(*store.Site)
	}
	return nil
}
