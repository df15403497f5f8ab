package authz

import "fmt"

// AuthorizationError reports an unknown user or a forbidden action; callers
// treat it as a 403-equivalent, never as a retriable condition.
type AuthorizationError struct {
	User   string
	Role   string
	Target string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %q is not authorized as role %q on target %q", e.User, e.Role, e.Target)
}

// Authorize is the enforcing counterpart to CheckUserAuth: it returns
// AuthorizationError instead of a bare bool, for call sites that want to
// propagate a rejection as an error.
func (a *Authorizer) Authorize(user, role, target string) error {
	if !a.CheckUserAuth(user, role, target) {
		return &AuthorizationError{User: user, Role: role, Target: target}
	}
	return nil
}
