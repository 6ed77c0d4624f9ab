package realtime

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/mariantrack/backend/internal/identity"
)

// ErrNotApproved is returned for connections from accounts that cannot use realtime.
var ErrNotApproved = errors.New("account not approved")

// IdentitySource resolves the current identity of a user.
type IdentitySource interface {
	Get(ctx context.Context, id uuid.UUID) (identity.Identity, error)
}

// PortfolioLookup returns the portfolio manager of a group, nil when unassigned.
type PortfolioLookup interface {
	PortfolioManagerOf(ctx context.Context, groupID uuid.UUID) (*uuid.UUID, error)
}

// IdentityAuthorizer grants rooms from the caller's cached identity.
type IdentityAuthorizer struct {
	identities IdentitySource
	groups     PortfolioLookup
}

// NewAuthorizer creates the default room authorizer.
func NewAuthorizer(identities IdentitySource, groups PortfolioLookup) *IdentityAuthorizer {
	return &IdentityAuthorizer{identities: identities, groups: groups}
}

// InitialTopics returns the default rooms of an approved user.
func (a *IdentityAuthorizer) InitialTopics(ctx context.Context, userID uuid.UUID) ([]string, error) {
	ident, err := a.identities.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ident.Approved() {
		return nil, ErrNotApproved
	}
	return DefaultTopics(ident), nil
}

// CanSubscribe reports whether userID may join topic.
func (a *IdentityAuthorizer) CanSubscribe(ctx context.Context, userID uuid.UUID, topic string) bool {
	ident, err := a.identities.Get(ctx, userID)
	if err != nil || !ident.Approved() {
		return false
	}
	kind, id, ok := ParseTopic(topic)
	if !ok {
		return false
	}
	admin := ident.Role.IsAdmin()
	switch kind {
	case TopicAdmins:
		return admin
	case "user":
		return id == userID
	case "portfolio":
		return admin || id == userID
	case "group":
		if admin || ident.InGroup(id) {
			return true
		}
		if !ident.Role.IsEmployee() || a.groups == nil {
			return false
		}
		pm, err := a.groups.PortfolioManagerOf(ctx, id)
		return err == nil && pm != nil && *pm == userID
	}
	return false
}
