package middleware

import (
	"net/http"
	"slices"

	"go-treewiki/internal/auth"
	"go-treewiki/internal/logger"
	"go-treewiki/internal/session"

	"github.com/casbin/casbin/v2"
)

const anonymousSubject = auth.RoleAnonymous

// Authorizer creates a new middleware for authorization.
// It checks the user's permissions using Casbin based on session data.
func Authorizer(e casbin.IEnforcer, sm session.Manager, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Get the user's subject from the session.
			// If not present, it will be an empty string.
			subject := sm.GetString(r.Context(), session.KeySubject)
			if subject == "" {
				subject = anonymousSubject
			}

			roles, err := e.GetImplicitRolesForUser(subject)
			if err != nil {
				log.Error(err, "failed to load roles")
			}
			userInfo := &UserInfo{
				Subject: subject,
				Email:   sm.GetString(r.Context(), session.KeyEmail),
				Roles:   roles,
				CanEdit: subject == auth.RoleEditor || slices.Contains(roles, auth.RoleEditor),
			}
			r = r.WithContext(SetUserInfo(r.Context(), userInfo))

			allowed, err := e.Enforce(subject, r.URL.Path, r.Method)
			if err != nil {
				log.Error(err, "authorization check failed")
				http.Error(w, "Authorization error", http.StatusInternalServerError)
				return
			}

			if !allowed {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
