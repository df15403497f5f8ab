package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testAuthorizer() *Authorizer {
	a := New()
	a.Load(
		[]User{
			{ID: 1, Name: "alovelace", DN: "/DC=org/DC=example/OU=People/CN=Ada Lovelace"},
			{ID: 2, Name: "ghopper", DN: "/DC=org/DC=example/OU=People/CN=Grace Hopper"},
		},
		[]Role{{ID: 1, Name: "production"}, {ID: 2, Name: "admin"}},
		[]Grant{
			{User: "alovelace", Role: "production", Target: "/Primary/Run2026"},
			{User: "ghopper", Role: AnyRole, Target: AnyTarget}, // superuser grant
		},
	)
	return a
}

func TestUserExists(t *testing.T) {
	a := testAuthorizer()
	assert.True(t, a.UserExists("alovelace"))
	assert.False(t, a.UserExists("nobody"))
}

func TestIdentifyUserByName(t *testing.T) {
	a := testAuthorizer()
	u, ok := a.IdentifyUser("", "ghopper", false)
	assert.True(t, ok)
	assert.Equal(t, 2, u.ID)
}

func TestIdentifyUserByDN(t *testing.T) {
	a := testAuthorizer()

	tests := []struct {
		name       string
		dn         string
		checkTrunc bool
		wantUser   string
		wantOK     bool
	}{
		{"exact match", "/DC=org/DC=example/OU=People/CN=Ada Lovelace", false, "alovelace", true},
		{"truncated without check_trunc fails", "/DC=org/DC=example/OU=People", false, "", false},
		{"truncated with check_trunc matches", "/DC=org/DC=example/OU=People", true, "alovelace", true},
		{"unrelated DN never matches", "/DC=net/CN=Someone Else", true, "", false},
		{"empty candidate never matches even with check_trunc", "", true, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, ok := a.IdentifyUser(tt.dn, "", tt.checkTrunc)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantUser, u.Name)
			}
		})
	}
}

// TestCheckUserAuthWildcards checks the wildcard semantics: a grant
// authorizes only if it matches on both role and target, each either exactly
// or through an AnyRole/AnyTarget wildcard in the grant, and a query widened
// with AnyRole/AnyTarget skips the check on that dimension.
func TestCheckUserAuthWildcards(t *testing.T) {
	a := testAuthorizer()

	tests := []struct {
		name   string
		user   string
		role   string
		target string
		want   bool
	}{
		{"exact grant match", "alovelace", "production", "/Primary/Run2026", true},
		{"wrong target rejected", "alovelace", "production", "/Primary/OtherRun", false},
		{"wrong role rejected", "alovelace", "admin", "/Primary/Run2026", false},
		{"query wildcard role matches named-role grant", "alovelace", AnyRole, "/Primary/Run2026", true},
		{"query wildcard target matches named-target grant", "alovelace", "production", AnyTarget, true},
		{"superuser grant authorizes any role", "ghopper", "admin", "/Primary/Run2026", true},
		{"superuser grant authorizes any target", "ghopper", "production", "/Anything/Else", true},
		{"unknown user never authorized", "nobody", AnyRole, AnyTarget, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.CheckUserAuth(tt.user, tt.role, tt.target))
		})
	}
}

func TestAuthorizeReturnsError(t *testing.T) {
	a := testAuthorizer()
	assert.NoError(t, a.Authorize("ghopper", "admin", "/Primary/Run2026"))

	err := a.Authorize("alovelace", "admin", "/Primary/Run2026")
	assert.Error(t, err)
	var authzErr *AuthorizationError
	assert.ErrorAs(t, err, &authzErr)
}

func TestListAuthorizationTargets(t *testing.T) {
	a := testAuthorizer()
	assert.Equal(t, []string{"/Primary/Run2026"}, a.ListAuthorizationTargets())
}

func TestListUserAuth(t *testing.T) {
	a := testAuthorizer()
	assert.Equal(t, [][2]string{{"production", "/Primary/Run2026"}}, a.ListUserAuth("alovelace"))
}

func TestListAuthorizedUsers(t *testing.T) {
	a := testAuthorizer()
	assert.Equal(t, [][2]string{{"ghopper", AnyRole}}, a.ListAuthorizedUsers(AnyTarget))
}
