// Package session carries who is acting and which branch they are acting in.
package session

import (
	"context"
	"strings"
	"sync"

	"dahabpos/backend/internal/domain"
)

// Context is passed explicitly into every service operation. An empty
// ActiveBranchID is only possible for a store owner and means all branches.
type Context struct {
	Actor          domain.Actor
	ActiveBranchID string
}

// New seeds the active branch from the actor's own branch.
func New(actor domain.Actor) Context {
	return Context{Actor: actor, ActiveBranchID: actor.BranchID}
}

// WithBranch selects branchID. Store owners choose freely; other roles may
// only name their own branch.
func (c Context) WithBranch(branchID string) (Context, error) {
	branchID = strings.TrimSpace(branchID)
	if branchID == "" {
		return c, nil
	}
	if !c.Actor.IsOwner() && branchID != c.Actor.BranchID {
		return c, domain.PermissionDenied("branch %s is outside your assignment", branchID)
	}
	c.ActiveBranchID = branchID
	return c, nil
}

// Branch resolves the branch a request targets: requested when given,
// otherwise the active branch.
func (c Context) Branch(requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		requested = c.ActiveBranchID
	}
	if c.Actor.IsOwner() {
		return requested, nil
	}
	if requested == "" || requested == c.Actor.BranchID {
		return c.Actor.BranchID, nil
	}
	return "", domain.PermissionDenied("branch %s is outside your assignment", requested)
}

// BranchContext holds the active branch of one operator session and notifies
// listeners when it changes, so branch-scoped state can be cleared or refetched.
type BranchContext struct {
	mu        sync.Mutex
	actor     domain.Actor
	active    string
	listeners []func(prev string, next string)
}

func NewBranchContext(actor domain.Actor) *BranchContext {
	return &BranchContext{actor: actor, active: actor.BranchID}
}

func (b *BranchContext) Active() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *BranchContext) Session() Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Context{Actor: b.actor, ActiveBranchID: b.active}
}

// Select switches the active branch. Listeners run after the switch, outside
// the lock, and only when the branch actually changed.
func (b *BranchContext) Select(branchID string) error {
	branchID = strings.TrimSpace(branchID)
	if !b.actor.IsOwner() && branchID != b.actor.BranchID {
		return domain.PermissionDenied("only a store owner may switch branches")
	}

	b.mu.Lock()
	prev := b.active
	if prev == branchID {
		b.mu.Unlock()
		return nil
	}
	b.active = branchID
	listeners := append([]func(string, string){}, b.listeners...)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(prev, branchID)
	}
	return nil
}

func (b *BranchContext) OnChange(fn func(prev string, next string)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}
