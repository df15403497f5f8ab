// Package authz implements read-only user and role authorization for the
// master server, kept deliberately stateless beyond its loaded tables so it
// stays safe under concurrent callers (the application server's per-client
// goroutines and the dealer cycle both consult it without coordination).
package authz

import (
	"sort"
	"sync"
)

// AnyTarget is the wildcard that authorizes a (user, role) pair across
// every target; AnyRole does the same across every role.
const (
	AnyTarget = ""
	AnyRole   = ""
)

// User is one registered account.
type User struct {
	ID   int
	Name string
	DN   string
}

// Role is one registered acting capacity (e.g. "admin", "production").
type Role struct {
	ID   int
	Name string
}

// Grant authorizes a user to act as role against target; target == AnyTarget
// authorizes every target, role == AnyRole authorizes every role.
type Grant struct {
	User   string
	Role   string
	Target string
}

// Authorizer is an in-memory snapshot of the users/roles/grants tables,
// replaced wholesale by Load and then queried read-only. cmd/dynamod
// creates it with New and does not call Load, and nothing refreshes it.
type Authorizer struct {
	mu sync.RWMutex

	usersByName map[string]*User
	usersByDN   []*User // preserves load order for deterministic trunc-match scans
	roles       map[string]*Role
	grants      []Grant
	targets     map[string]struct{}
}

// New returns an empty Authorizer; callers populate it with Load.
func New() *Authorizer {
	return &Authorizer{
		usersByName: make(map[string]*User),
		roles:       make(map[string]*Role),
		targets:     make(map[string]struct{}),
	}
}

// Load replaces the authorizer's entire table snapshot atomically.
func (a *Authorizer) Load(users []User, roles []Role, grants []Grant) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.usersByName = make(map[string]*User, len(users))
	a.usersByDN = make([]*User, 0, len(users))
	for i := range users {
		u := users[i]
		a.usersByName[u.Name] = &u
		if u.DN != "" {
			a.usersByDN = append(a.usersByDN, &u)
		}
	}

	a.roles = make(map[string]*Role, len(roles))
	for i := range roles {
		r := roles[i]
		a.roles[r.Name] = &r
	}

	a.grants = append([]Grant(nil), grants...)
	a.targets = make(map[string]struct{})
	for _, g := range a.grants {
		if g.Target != AnyTarget {
			a.targets[g.Target] = struct{}{}
		}
	}
}

// UserExists reports whether name is a registered account.
func (a *Authorizer) UserExists(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.usersByName[name]
	return ok
}

// ListUsers returns every registered user, ordered by name.
func (a *Authorizer) ListUsers() []User {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]User, 0, len(a.usersByName))
	for _, u := range a.usersByName {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IdentifyUser resolves a certificate DN or a plain username to the
// registered account name and id. Exactly one of dn/name should be
// non-empty; if both are given, only name is looked up and dn is ignored,
// even when name is unknown. checkTrunc additionally
// matches DNs that are a truncation prefix of a registered DN.
func (a *Authorizer) IdentifyUser(dn, name string, checkTrunc bool) (User, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if name != "" {
		if u, ok := a.usersByName[name]; ok {
			return *u, true
		}
		return User{}, false
	}
	if dn == "" {
		return User{}, false
	}
	for _, u := range a.usersByDN {
		if matchesDN(u.DN, dn, checkTrunc) {
			return *u, true
		}
	}
	return User{}, false
}

// IdentifyRole reports whether name is a registered role.
func (a *Authorizer) IdentifyRole(name string) (Role, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.roles[name]
	if !ok {
		return Role{}, false
	}
	return *r, true
}

// ListRoles returns every registered role name, sorted.
func (a *Authorizer) ListRoles() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.roles))
	for name := range a.roles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ListAuthorizationTargets returns every distinct named target that appears
// in a grant, sorted (AnyTarget grants don't name a specific target).
func (a *Authorizer) ListAuthorizationTargets() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.targets))
	for t := range a.targets {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// CheckUserAuth reports whether user is authorized to act as role against
// target. role == AnyRole or target == AnyTarget widens the check across
// that dimension; a grant authorizes if it matches (exactly or by wildcard)
// on both dimensions.
func (a *Authorizer) CheckUserAuth(user, role, target string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, g := range a.grants {
		if g.User != user {
			continue
		}
		if role != AnyRole && g.Role != AnyRole && g.Role != role {
			continue
		}
		if target != AnyTarget && g.Target != AnyTarget && g.Target != target {
			continue
		}
		return true
	}
	return false
}

// ListUserAuth returns every (role, target) grant held by user.
func (a *Authorizer) ListUserAuth(user string) [][2]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out [][2]string
	for _, g := range a.grants {
		if g.User == user {
			out = append(out, [2]string{g.Role, g.Target})
		}
	}
	return out
}

// ListAuthorizedUsers returns every (user, role) authorized for target.
// target == AnyTarget lists grants authorized for every target.
func (a *Authorizer) ListAuthorizedUsers(target string) [][2]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out [][2]string
	for _, g := range a.grants {
		if target == AnyTarget {
			if g.Target != AnyTarget {
				continue
			}
		} else if g.Target != target && g.Target != AnyTarget {
			continue
		}
		out = append(out, [2]string{g.User, g.Role})
	}
	return out
}
