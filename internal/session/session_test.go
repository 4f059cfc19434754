package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dahabpos/backend/internal/domain"
)

var (
	owner = domain.Actor{ID: "u-owner", Role: domain.RoleStoreOwner}
	sales = domain.Actor{ID: "u-sales", Role: domain.RoleSalesMan, BranchID: "br-a"}
)

func TestNewSeedsOwnBranch(t *testing.T) {
	assert.Equal(t, "br-a", New(sales).ActiveBranchID)
	assert.Equal(t, "", New(owner).ActiveBranchID)
}

func TestWithBranch(t *testing.T) {
	sess, err := New(owner).WithBranch("br-b")
	require.NoError(t, err)
	assert.Equal(t, "br-b", sess.ActiveBranchID)

	_, err = New(sales).WithBranch("br-b")
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))

	same, err := New(sales).WithBranch("br-a")
	require.NoError(t, err)
	assert.Equal(t, "br-a", same.ActiveBranchID)
}

func TestBranchResolution(t *testing.T) {
	branch, err := New(sales).Branch("")
	require.NoError(t, err)
	assert.Equal(t, "br-a", branch)

	_, err = New(sales).Branch("br-b")
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))

	ownerSess, _ := New(owner).WithBranch("br-c")
	branch, err = ownerSess.Branch("")
	require.NoError(t, err)
	assert.Equal(t, "br-c", branch)

	branch, err = ownerSess.Branch("br-d")
	require.NoError(t, err)
	assert.Equal(t, "br-d", branch)
}

func TestBranchContextNotifiesOnChange(t *testing.T) {
	bc := NewBranchContext(owner)
	var events [][2]string
	bc.OnChange(func(prev, next string) {
		events = append(events, [2]string{prev, next})
	})

	require.NoError(t, bc.Select("br-a"))
	require.NoError(t, bc.Select("br-a"))
	require.NoError(t, bc.Select("br-b"))

	assert.Equal(t, [][2]string{{"", "br-a"}, {"br-a", "br-b"}}, events)
	assert.Equal(t, "br-b", bc.Session().ActiveBranchID)
}

func TestBranchContextRejectsSwitchForNonOwner(t *testing.T) {
	bc := NewBranchContext(sales)
	called := false
	bc.OnChange(func(string, string) { called = true })

	err := bc.Select("br-b")
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))
	assert.Equal(t, "br-a", bc.Active())
	assert.False(t, called)
}

func TestActorContextRoundTrip(t *testing.T) {
	ctx := WithActor(context.Background(), sales)
	got, ok := ActorFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, sales, got)

	_, ok = ActorFromContext(context.Background())
	assert.False(t, ok)
}
