// Package normalize maps provider-native audit events onto a single Event shape.
package normalize

import (
	"encoding/json"
	"time"

	"github.com/DrSkyle/cloudtail/pkg/engine/failure"
	"github.com/DrSkyle/cloudtail/pkg/engine/tree"
	"github.com/google/uuid"
)

// Provider names an event source family. The value doubles as the store partition key.
type Provider string

const (
	AWS   Provider = "aws"
	Azure Provider = "azure"
)

// Account is the provider account context an event was fetched under.
type Account struct {
	// ID is the AWS account id or the Azure subscription id.
	ID string
	// Profile is the AWS shared-config profile. Empty for Azure and default credentials.
	Profile string
	// Region is the AWS region the feed was queried in.
	Region string
}

// Normalizable is implemented by every provider-native raw event variant.
type Normalizable interface {
	Provider() Provider
	// ToStructured returns the match target and stored payload. A non-nil error means the
	// tree was built in degraded form; the tree is still usable.
	ToStructured() (tree.Value, error)
	// UniqueID returns the provider-native id, or "" when the event carries none.
	UniqueID() string
	Timestamp() time.Time
	// Name is the event name (CloudTrail) or operation name (Activity Log).
	Name() string
	// Source is the emitting service, when the provider reports one.
	Source() string
}

// Event is a normalized audit event.
type Event struct {
	SourceID    string
	Provider    Provider
	Account     Account
	Name        string
	Source      string
	Time        time.Time
	Payload     tree.Value
	ExecutionID string
}

// RawPayload serializes the full payload for storage.
func (e Event) RawPayload() ([]byte, error) {
	return json.Marshal(e.Payload)
}

// IDFunc synthesizes an id for events that lack one.
type IDFunc func() string

// NewUUID is the default IDFunc.
func NewUUID() string { return uuid.NewString() }

// Normalize converts raw into an Event. It never fails: a non-nil error is a
// failure.Normalization warning describing how the event was degraded.
func Normalize(raw Normalizable, acct Account, newID IDFunc) (Event, error) {
	if newID == nil {
		newID = NewUUID
	}
	payload, warn := raw.ToStructured()

	id := raw.UniqueID()
	if id == "" {
		id = newID()
	}

	return Event{
		SourceID: id,
		Provider: raw.Provider(),
		Account:  acct,
		Name:     raw.Name(),
		Source:   raw.Source(),
		Time:     raw.Timestamp(),
		Payload:  payload,
	}, failure.New(failure.Normalization, "normalize "+string(raw.Provider())+" event "+id, warn)
}
