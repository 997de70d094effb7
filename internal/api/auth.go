package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/simplui/simplui/internal/config"
)

// Role is the access level of an API caller.
type Role string

const (
	// RoleAdmin may start, skip and stop batches.
	RoleAdmin Role = "admin"
	// RoleViewer may only read schemas, states and events.
	RoleViewer Role = "viewer"
)

// Credential environment variables, resolved with the _FILE convention.
const (
	EnvAdminUser  = "SIMPLUI_ADMIN_USER"
	EnvAdminPass  = "SIMPLUI_ADMIN_PASS"
	EnvViewerUser = "SIMPLUI_VIEWER_USER"
	EnvViewerPass = "SIMPLUI_VIEWER_PASS"
)

// Credentials are the basic auth accounts of the API. Without admin
// credentials authentication is disabled and every caller is admin.
type Credentials struct {
	AdminUser  string
	AdminPass  string
	ViewerUser string
	ViewerPass string
}

// LoadCredentials reads the accounts from the environment.
func LoadCredentials() (Credentials, error) {
	var c Credentials
	for _, f := range []struct {
		env string
		dst *string
	}{
		{EnvAdminUser, &c.AdminUser},
		{EnvAdminPass, &c.AdminPass},
		{EnvViewerUser, &c.ViewerUser},
		{EnvViewerPass, &c.ViewerPass},
	} {
		v, err := config.ResolveSecret(f.env)
		if err != nil {
			return Credentials{}, fmt.Errorf("resolve %s: %w", f.env, err)
		}
		*f.dst = v
	}
	return c, nil
}

// Enabled reports whether requests must authenticate.
func (c Credentials) Enabled() bool {
	return c.AdminUser != "" && c.AdminPass != ""
}

// authenticate returns the caller's role, or "" for bad credentials.
func (c Credentials) authenticate(r *http.Request) Role {
	if !c.Enabled() {
		return RoleAdmin
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return ""
	}
	if secureCompare(user, c.AdminUser) && secureCompare(pass, c.AdminPass) {
		return RoleAdmin
	}
	if c.ViewerUser != "" && c.ViewerPass != "" &&
		secureCompare(user, c.ViewerUser) && secureCompare(pass, c.ViewerPass) {
		return RoleViewer
	}
	return ""
}

// secureCompare compares in constant time.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requireAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="simplui"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// requireRole wraps handler, admitting only callers holding one of roles.
func (c Credentials) requireRole(handler http.HandlerFunc, roles ...Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := c.authenticate(r)
		if role == "" {
			requireAuth(w)
			return
		}
		for _, allowed := range roles {
			if role == allowed {
				handler(w, r)
				return
			}
		}
		http.Error(w, "Forbidden", http.StatusForbidden)
	}
}

func (c Credentials) admin(h http.HandlerFunc) http.HandlerFunc {
	return c.requireRole(h, RoleAdmin)
}

func (c Credentials) viewer(h http.HandlerFunc) http.HandlerFunc {
	return c.requireRole(h, RoleAdmin, RoleViewer)
}
