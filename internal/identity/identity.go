// Package identity resolves who a request belongs to and what they may do.
//
// The portal itself owns no accounts. Roles come from the WordPress site the
// dashboard is embedded in, and purchase history comes from its WooCommerce
// store. Both collaborators sit behind small interfaces with no-op defaults so
// the service runs standalone in development and tests.
package identity

import (
	"context"
	"time"
)

// Principal is an authenticated caller.
type Principal struct {
	SubjectID string   `json:"subject_id"`
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles"`
}

// HasAnyRole reports whether the principal holds at least one of the roles.
func (p *Principal) HasAnyRole(roles ...string) bool {
	for _, want := range roles {
		for _, have := range p.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// RoleProvider authenticates a bearer token and returns the principal behind
// it. Implementations are chosen once at startup, never probed per request.
type RoleProvider interface {
	Resolve(ctx context.Context, token string) (*Principal, error)
}

// Order is one purchase from the commerce feed.
type Order struct {
	ID        int64     `json:"id"`
	Status    string    `json:"status"`
	Total     string    `json:"total"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
	Items     []string  `json:"items,omitempty"`
}

// OrderFeed lists a subject's purchases, read-only.
type OrderFeed interface {
	Orders(ctx context.Context, subjectID string) ([]Order, error)
}

// StaticProvider accepts every token and answers with a fixed principal.
// It is the default when no WordPress endpoint is configured.
type StaticProvider struct {
	Principal Principal
}

func (s *StaticProvider) Resolve(ctx context.Context, token string) (*Principal, error) {
	p := s.Principal
	if p.SubjectID == "" {
		p.SubjectID = "anonymous"
	}
	if len(p.Roles) == 0 {
		p.Roles = []string{"subscriber"}
	}
	return &p, nil
}

// NoOrders is the OrderFeed default: an always-empty purchase history.
type NoOrders struct{}

func (NoOrders) Orders(ctx context.Context, subjectID string) ([]Order, error) {
	return []Order{}, nil
}
