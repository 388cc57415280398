package api

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"hexascan/core/auth"
	"hexascan/core/rbac"
)

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if s.logger != nil {
					s.logger.Errorf("PANIC %s %s: %v\n%s", r.Method, r.URL.Path, rec, string(debug.Stack()))
				}
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if s.logger != nil {
			s.logger.Printf("RESP %s %s status=%d dur=%s bytes=%d", r.Method, r.URL.Path, rec.status, time.Since(start), rec.size)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// withOrg resolves the org-console caller from the gateway-injected identity
// headers. The upstream gateway terminates user auth; this service only
// trusts what it forwards.
func (s *Server) withOrg(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get("X-Org-ID")), 10, 64)
		if err != nil || orgID <= 0 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		role := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Org-Role")))
		if role == "" {
			role = "viewer"
		}
		ident := &auth.OrgIdentity{
			OrganizationID: orgID,
			Role:           role,
			Email:          strings.TrimSpace(r.Header.Get("X-Org-Email")),
		}
		ctx := context.WithValue(r.Context(), auth.OrgContextKey, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requirePermission(perm rbac.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident := auth.OrgFromContext(r.Context())
			if ident == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !s.policy.Allowed(ident.Role, perm) {
				if s.logger != nil {
					s.logger.Printf("PERM fail %s %s org=%d role=%s need=%s", r.Method, r.URL.Path, ident.OrganizationID, ident.Role, perm)
				}
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// withAgentAuth authenticates monitoring agents. The bearer credential is
// "{siteID}.{secret}"; the secret is checked against the site's bcrypt hash.
func (s *Server) withAgentAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get("Authorization"))
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		idPart, secret, ok := strings.Cut(strings.TrimSpace(token), ".")
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		siteID, err := strconv.ParseInt(idPart, 10, 64)
		if err != nil || siteID <= 0 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		site, err := s.sites.GetSite(r.Context(), siteID)
		if err != nil || site == nil || site.APIKeyHash == "" {
			if s.logger != nil {
				s.logger.Printf("AGENT auth fail site=%d %s %s", siteID, r.Method, r.URL.Path)
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(site.APIKeyHash), []byte(secret)) != nil {
			if s.logger != nil {
				s.logger.Printf("AGENT auth fail (bad key) site=%d %s %s", siteID, r.Method, r.URL.Path)
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), auth.SiteContextKey, site)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
