package httpapi

import (
	"context"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dahabpos/backend/internal/domain"
	"dahabpos/backend/internal/service"
)

type credentialsStub struct {
	user     domain.StaffUser
	resolved map[string]domain.Actor
}

func (s *credentialsStub) Authenticate(_ context.Context, username string, password string) (domain.StaffUser, error) {
	if username != s.user.Username || password != "correct horse" {
		return domain.StaffUser{}, service.ErrInvalidCredentials
	}
	return s.user, nil
}

func (s *credentialsStub) ResolveActor(_ context.Context, actorID string) (domain.Actor, error) {
	actor, ok := s.resolved[actorID]
	if !ok {
		return domain.Actor{}, service.ErrInactiveAccount
	}
	return actor, nil
}

func newStubAuth() (*AuthManager, *credentialsStub) {
	creds := &credentialsStub{
		user: domain.StaffUser{ID: "u-7", Username: "noura", Role: domain.RoleBranchManager, BranchID: "br-main", Active: true},
	}
	creds.resolved = map[string]domain.Actor{"u-7": creds.user.Actor()}
	return NewAuthManager("unit-test-secret-0123456789abcdef", time.Hour, creds), creds
}

func TestLoginIssuesTokenCarryingBranch(t *testing.T) {
	auth, _ := newStubAuth()

	resp, err := auth.Login(context.Background(), domain.LoginRequest{Username: "noura", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleBranchManager, resp.Role)
	assert.Equal(t, "br-main", resp.BranchID)

	actor, err := auth.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{ID: "u-7", Username: "noura", Role: domain.RoleBranchManager, BranchID: "br-main"}, actor)

	_, err = auth.Login(context.Background(), domain.LoginRequest{Username: "noura", Password: "nope"})
	require.ErrorIs(t, err, service.ErrInvalidCredentials)
}

func TestAuthenticateReloadsActor(t *testing.T) {
	auth, creds := newStubAuth()
	ctx := context.Background()

	resp, err := auth.Login(ctx, domain.LoginRequest{Username: "noura", Password: "correct horse"})
	require.NoError(t, err)

	creds.resolved["u-7"] = domain.Actor{ID: "u-7", Username: "noura", Role: domain.RoleSalesMan, BranchID: "br-salmiya"}
	actor, err := auth.Authenticate(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSalesMan, actor.Role)
	assert.Equal(t, "br-salmiya", actor.BranchID)

	delete(creds.resolved, "u-7")
	_, err = auth.Authenticate(ctx, resp.AccessToken)
	require.ErrorIs(t, err, service.ErrInactiveAccount)
}

func TestParseTokenRejectsForeignTokens(t *testing.T) {
	auth, _ := newStubAuth()

	other := NewAuthManager("another-secret-0123456789abcdefgh", time.Hour, nil)
	foreign, err := other.sign(domain.Actor{ID: "u-7", Role: domain.RoleStoreOwner}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = auth.ParseToken(foreign)
	assert.ErrorIs(t, err, errInvalidToken)

	expired, err := auth.sign(domain.Actor{ID: "u-7", Role: domain.RoleStoreOwner}, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = auth.ParseToken(expired)
	assert.ErrorIs(t, err, errInvalidToken)

	wrongIssuer := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, staffClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "u-7",
			Issuer:    "someone-else",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: domain.RoleStoreOwner,
	})
	signed, err := wrongIssuer.SignedString(auth.secret)
	require.NoError(t, err)
	_, err = auth.ParseToken(signed)
	assert.ErrorIs(t, err, errInvalidToken)

	badRole, err := auth.sign(domain.Actor{ID: "u-7", Role: domain.Role("admin")}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = auth.ParseToken(badRole)
	assert.Error(t, err)
}
