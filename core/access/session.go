/*Package access provides utilities for access control
 */
package access

import (
	"context"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeySession contextKey = "_session_"
)

// the two roles known to the backend
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

/*Session is a context object which stores identity information for the
user who is currently logged in.

A session carries the user's id, role and display attributes. It is
derived from a verified bearer token and added to a request context by the
authentication middleware with

  ctx = session.ContextWithSession(ctx)

and retrieved with

  session := SessionFromContext(ctx)

The backend uses the session object for role based access control.
*/
type Session struct {
	UserID      int64  `json:"sub"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// IsAdmin returns true if the session belongs to an administrator;
// otherwise it returns false.
func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == RoleAdmin
}

// ContextWithSession returns a new context with this session added to it
func (s *Session) ContextWithSession(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeySession, s)
}

// SessionFromContext retrieves a session from the context
func SessionFromContext(ctx context.Context) *Session {
	s, ok := ctx.Value(contextKeySession).(*Session)
	if ok {
		return s
	}
	return nil
}

// ValidRole returns true for the roles a user record may carry.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAdmin
}
