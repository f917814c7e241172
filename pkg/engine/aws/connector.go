// Package aws resolves AWS identities and reads CloudTrail management events.
package aws

import (
	"context"
	"iter"
	"log/slog"

	"github.com/DrSkyle/cloudtail/pkg/engine/failure"
	"github.com/DrSkyle/cloudtail/pkg/engine/normalize"
	"github.com/DrSkyle/cloudtail/pkg/engine/source"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
)

// ClientFactory builds a Client for a profile and region.
type ClientFactory func(ctx context.Context, region, profile string) (*Client, error)

// CloudTrailFactory builds the LookupEvents API for a resolved configuration.
type CloudTrailFactory func(cfg aws.Config) cloudtrail.LookupEventsAPIClient

// Connector implements source.Connector for CloudTrail.
type Connector struct {
	newClient     ClientFactory
	newCloudTrail CloudTrailFactory
	logger        *slog.Logger
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithClientFactory replaces SDK configuration loading.
func WithClientFactory(f ClientFactory) ConnectorOption {
	return func(c *Connector) { c.newClient = f }
}

// WithCloudTrailFactory replaces the CloudTrail API client.
func WithCloudTrailFactory(f CloudTrailFactory) ConnectorOption {
	return func(c *Connector) { c.newCloudTrail = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ConnectorOption {
	return func(c *Connector) { c.logger = l }
}

// NewConnector returns a Connector backed by the shared AWS configuration. verbose logs
// every API call.
func NewConnector(verbose bool, opts ...ConnectorOption) *Connector {
	c := &Connector{
		newCloudTrail: func(cfg aws.Config) cloudtrail.LookupEventsAPIClient {
			return cloudtrail.NewFromConfig(cfg)
		},
		logger: slog.Default(),
	}
	c.newClient = func(ctx context.Context, region, profile string) (*Client, error) {
		var callLog *slog.Logger
		if verbose {
			callLog = c.logger
		}
		return NewClient(ctx, region, profile, callLog)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connector) Provider() normalize.Provider { return normalize.AWS }

// Connect loads credentials for ref and checks them with STS. A configured account id
// must equal the caller's account.
func (c *Connector) Connect(ctx context.Context, ref source.AccountRef) (source.Session, error) {
	region := ref.Region
	if region == "" {
		region = DefaultRegion
	}
	op := "connect " + ref.String()

	client, err := c.newClient(ctx, region, ref.Profile)
	if err != nil {
		return nil, failure.New(failure.Identity, op, err)
	}
	accountID, err := client.VerifyIdentity(ctx)
	if err != nil {
		return nil, failure.New(failure.Identity, op, err)
	}
	if ref.ID != "" && ref.ID != accountID {
		return nil, failure.Identityf(op, "configured account %s does not match the credentials' account %s", ref.ID, accountID)
	}

	c.logger.Debug("AWS identity verified", "account", accountID, "profile", ref.Profile, "region", region)
	return &Session{
		account: normalize.Account{ID: accountID, Profile: ref.Profile, Region: region},
		trail:   NewCloudTrailClient(c.newCloudTrail(client.Config), nil),
	}, nil
}

// Session is a verified CloudTrail view of one account and region.
type Session struct {
	account normalize.Account
	trail   *CloudTrailClient
}

func (s *Session) Provider() normalize.Provider   { return normalize.AWS }
func (s *Session) Account() normalize.Account     { return s.account }
func (s *Session) SupportsLookup(key string) bool { return IsLookupKey(key) }

// ListEvents implements source.Session.
func (s *Session) ListEvents(ctx context.Context, q source.Query) iter.Seq2[normalize.Normalizable, error] {
	var attrs []types.LookupAttribute
	if q.Lookup != nil {
		attrs = []types.LookupAttribute{{
			AttributeKey:   types.LookupAttributeKey(q.Lookup.Key),
			AttributeValue: aws.String(q.Lookup.Value),
		}}
	}
	return func(yield func(normalize.Normalizable, error) bool) {
		for rec, err := range s.trail.Events(ctx, q.Window.Start, q.Window.End, attrs) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// IsThrottle lets the worker pool back off on CloudTrail throttling.
func (c *Connector) IsThrottle(err error) bool { return IsThrottle(err) }
