// Package source drives one rule against one provider account: window, fetch, normalize,
// filter, match, persist.
package source

import (
	"context"
	"iter"

	"github.com/DrSkyle/cloudtail/pkg/engine/normalize"
	"github.com/DrSkyle/cloudtail/pkg/engine/watermark"
)

// AccountRef is a configured account before its identity is resolved.
type AccountRef struct {
	// ID is the expected AWS account id or the Azure subscription id. Empty for AWS
	// default credentials.
	ID      string
	Profile string
	Region  string
}

func (a AccountRef) String() string {
	switch {
	case a.Profile != "" && a.ID != "":
		return a.ID + " (" + a.Profile + ")"
	case a.Profile != "":
		return a.Profile
	case a.ID != "":
		return a.ID
	}
	return "default"
}

// Lookup is an attribute the provider filters on server side.
type Lookup struct {
	Key   string
	Value string
}

// Query is one fetch: a time window and an optional server-side attribute.
type Query struct {
	Window watermark.Window
	Lookup *Lookup
}

// Session is an authenticated, identity-verified view of one account.
type Session interface {
	Provider() normalize.Provider
	// Account is the resolved identity events are attributed to.
	Account() normalize.Account
	// SupportsLookup reports whether key can be enforced by the provider for exact values.
	SupportsLookup(key string) bool
	// ListEvents lazily pages through the window. The sequence is finite and not
	// restartable; a non-nil error ends it.
	ListEvents(ctx context.Context, q Query) iter.Seq2[normalize.Normalizable, error]
}

// Connector resolves identities for one provider.
type Connector interface {
	Provider() normalize.Provider
	// Connect verifies credentials for ref. Failures are failure.Identity errors.
	Connect(ctx context.Context, ref AccountRef) (Session, error)
}
