// Package azure resolves Azure subscriptions and reads their Activity Log.
package azure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/monitor/armmonitor"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
	"github.com/DrSkyle/cloudtail/pkg/engine/failure"
	"github.com/DrSkyle/cloudtail/pkg/engine/normalize"
	"github.com/DrSkyle/cloudtail/pkg/engine/source"
)

// SubscriptionsAPI is the part of the subscriptions client identity resolution needs.
type SubscriptionsAPI interface {
	Get(ctx context.Context, subscriptionID string, options *armsubscriptions.ClientGetOptions) (armsubscriptions.ClientGetResponse, error)
}

// ActivityLogsAPI is the part of the Monitor client the feed needs.
type ActivityLogsAPI interface {
	NewListPager(filter string, options *armmonitor.ActivityLogsClientListOptions) *runtime.Pager[armmonitor.ActivityLogsClientListResponse]
}

// Factories build the SDK clients; tests replace them.
type (
	CredentialFactory    func() (azcore.TokenCredential, error)
	SubscriptionsFactory func(cred azcore.TokenCredential) (SubscriptionsAPI, error)
	ActivityLogsFactory  func(subscriptionID string, cred azcore.TokenCredential) (ActivityLogsAPI, error)
)

// Connector implements source.Connector for the Azure Activity Log.
type Connector struct {
	newCredential    CredentialFactory
	newSubscriptions SubscriptionsFactory
	newActivityLogs  ActivityLogsFactory
	logger           *slog.Logger

	once    sync.Once
	cred    azcore.TokenCredential
	subs    SubscriptionsAPI
	initErr error
}

// Option configures a Connector.
type Option func(*Connector)

func WithCredentialFactory(f CredentialFactory) Option {
	return func(c *Connector) { c.newCredential = f }
}

func WithSubscriptionsFactory(f SubscriptionsFactory) Option {
	return func(c *Connector) { c.newSubscriptions = f }
}

func WithActivityLogsFactory(f ActivityLogsFactory) Option {
	return func(c *Connector) { c.newActivityLogs = f }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Connector) { c.logger = l }
}

// NewConnector returns a Connector using DefaultAzureCredential.
func NewConnector(opts ...Option) *Connector {
	c := &Connector{
		newCredential: func() (azcore.TokenCredential, error) {
			return azidentity.NewDefaultAzureCredential(nil)
		},
		newSubscriptions: func(cred azcore.TokenCredential) (SubscriptionsAPI, error) {
			return armsubscriptions.NewClient(cred, nil)
		},
		newActivityLogs: func(subscriptionID string, cred azcore.TokenCredential) (ActivityLogsAPI, error) {
			return armmonitor.NewActivityLogsClient(subscriptionID, cred, nil)
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connector) Provider() normalize.Provider { return normalize.Azure }

// Connect checks that the subscription exists, is enabled and is readable with the
// ambient credential.
func (c *Connector) Connect(ctx context.Context, ref source.AccountRef) (source.Session, error) {
	op := "connect subscription " + ref.ID
	if ref.ID == "" {
		return nil, failure.Identityf(op, "subscription id is empty")
	}

	c.once.Do(func() {
		c.cred, c.initErr = c.newCredential()
		if c.initErr == nil {
			c.subs, c.initErr = c.newSubscriptions(c.cred)
		}
	})
	if c.initErr != nil {
		return nil, failure.New(failure.Identity, op, c.initErr)
	}

	resp, err := c.subs.Get(ctx, ref.ID, nil)
	if err != nil {
		return nil, failure.New(failure.Identity, op, describe(err))
	}
	if resp.State != nil && *resp.State != armsubscriptions.SubscriptionStateEnabled {
		return nil, failure.Identityf(op, "subscription is %s", *resp.State)
	}

	logs, err := c.newActivityLogs(ref.ID, c.cred)
	if err != nil {
		return nil, failure.New(failure.Identity, op, err)
	}

	name := ""
	if resp.DisplayName != nil {
		name = *resp.DisplayName
	}
	c.logger.Debug("Azure subscription verified", "subscription", ref.ID, "name", name)
	return &Session{account: normalize.Account{ID: ref.ID}, logs: logs}, nil
}

// Session is a verified Activity Log view of one subscription.
type Session struct {
	account normalize.Account
	logs    ActivityLogsAPI
}

func (s *Session) Provider() normalize.Provider { return normalize.Azure }
func (s *Session) Account() normalize.Account   { return s.account }

// SupportsLookup is always false: the Activity Log API filters on time only here, every
// attribute is matched client side.
func (s *Session) SupportsLookup(string) bool { return false }

// ListEvents implements source.Session.
func (s *Session) ListEvents(ctx context.Context, q source.Query) iter.Seq2[normalize.Normalizable, error] {
	return func(yield func(normalize.Normalizable, error) bool) {
		pager := s.logs.NewListPager(Filter(q.Window.Start, q.Window.End), nil)
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				yield(nil, classify("ActivityLogs.List", err))
				return
			}
			for _, ev := range page.Value {
				if ev == nil {
					continue
				}
				raw, err := json.Marshal(ev)
				if err != nil {
					yield(nil, failure.New(failure.TransientFetch, "encode activity log event", err))
					return
				}
				if !yield(normalize.NewActivityLogRecord(raw), nil) {
					return
				}
			}
		}
	}
}

// Filter builds the OData time filter for [start, end].
func Filter(start, end time.Time) string {
	return fmt.Sprintf("eventTimestamp ge '%s' and eventTimestamp le '%s'",
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
}

func classify(op string, err error) error {
	var re *azcore.ResponseError
	if errors.As(err, &re) && (re.StatusCode == http.StatusForbidden || re.ErrorCode == "AuthorizationFailed") {
		return failure.New(failure.Permission, op, err)
	}
	return failure.New(failure.TransientFetch, op, err)
}

// describe shortens the common subscription lookup failures.
func describe(err error) error {
	var re *azcore.ResponseError
	if !errors.As(err, &re) {
		return err
	}
	switch {
	case re.ErrorCode == "InvalidSubscriptionId":
		return fmt.Errorf("subscription id is malformed or invalid: %w", err)
	case re.StatusCode == http.StatusNotFound || re.ErrorCode == "SubscriptionNotFound":
		return fmt.Errorf("subscription not found: %w", err)
	case re.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("authentication failed: %w", err)
	}
	return err
}

// IsThrottle reports whether err is an Azure Resource Manager throttling response.
func IsThrottle(err error) bool {
	var re *azcore.ResponseError
	return errors.As(err, &re) && re.StatusCode == http.StatusTooManyRequests
}

// IsThrottle lets the worker pool back off on Resource Manager throttling.
func (c *Connector) IsThrottle(err error) bool { return IsThrottle(err) }
