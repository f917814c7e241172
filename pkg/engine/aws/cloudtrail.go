package aws

import (
	"context"
	"iter"
	"time"

	"github.com/DrSkyle/cloudtail/pkg/engine/normalize"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
	"golang.org/x/time/rate"
)

// LookupEvents allows 2 requests per second per account and region.
const (
	lookupEventsRate  = rate.Limit(2)
	lookupEventsBurst = 1
	lookupPageSize    = 50
)

// CloudTrailClient pages through LookupEvents under the per-account rate limit.
type CloudTrailClient struct {
	api     cloudtrail.LookupEventsAPIClient
	limiter *rate.Limiter
}

// NewCloudTrailClient wraps api. A nil limiter applies the LookupEvents quota.
func NewCloudTrailClient(api cloudtrail.LookupEventsAPIClient, limiter *rate.Limiter) *CloudTrailClient {
	if limiter == nil {
		limiter = rate.NewLimiter(lookupEventsRate, lookupEventsBurst)
	}
	return &CloudTrailClient{api: api, limiter: limiter}
}

// IsLookupKey reports whether key is one of CloudTrail's server-side lookup attributes.
func IsLookupKey(key string) bool {
	for _, k := range types.LookupAttributeKey("").Values() {
		if string(k) == key {
			return true
		}
	}
	return false
}

// Events yields every event in [start, end), optionally narrowed by one lookup
// attribute. Errors are classified with classify and end the sequence.
func (c *CloudTrailClient) Events(ctx context.Context, start, end time.Time, attrs []types.LookupAttribute) iter.Seq2[normalize.CloudTrailRecord, error] {
	return func(yield func(normalize.CloudTrailRecord, error) bool) {
		input := &cloudtrail.LookupEventsInput{
			LookupAttributes: attrs,
			StartTime:        aws.Time(start),
			EndTime:          aws.Time(end),
			MaxResults:       aws.Int32(lookupPageSize),
		}
		paginator := cloudtrail.NewLookupEventsPaginator(c.api, input)
		for paginator.HasMorePages() {
			if err := c.limiter.Wait(ctx); err != nil {
				yield(normalize.CloudTrailRecord{}, err)
				return
			}
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(normalize.CloudTrailRecord{}, classify("LookupEvents", err))
				return
			}
			for _, ev := range page.Events {
				if !yield(toRecord(ev), nil) {
					return
				}
			}
		}
	}
}

func toRecord(ev types.Event) normalize.CloudTrailRecord {
	return normalize.CloudTrailRecord{
		EventID:     aws.ToString(ev.EventId),
		EventName:   aws.ToString(ev.EventName),
		EventSource: aws.ToString(ev.EventSource),
		EventTime:   aws.ToTime(ev.EventTime).UTC(),
		Username:    aws.ToString(ev.Username),
		Detail:      ev.CloudTrailEvent,
	}
}
