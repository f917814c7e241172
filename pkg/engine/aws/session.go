package aws

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/DrSkyle/cloudtail/pkg/version"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// DefaultRegion is used when an account pair does not name one.
const DefaultRegion = "us-east-1"

// STSAPI is the part of the STS client identity resolution needs.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Client holds the resolved SDK configuration for one profile and region.
type Client struct {
	Config aws.Config
	STS    STSAPI
}

// NewClient loads the shared configuration for profile (default credentials when empty).
// AWS_ENDPOINT_URL redirects every service, which is how tests reach LocalStack. A
// non-nil callLog receives every API operation at debug level.
func NewClient(ctx context.Context, region, profile string, callLog *slog.Logger) (*Client, error) {
	if region == "" {
		region = DefaultRegion
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load SDK config for profile %q: %w", profile, err)
	}

	cfg.APIOptions = append(cfg.APIOptions, func(stack *middleware.Stack) error {
		return stack.Build.Add(middleware.BuildMiddlewareFunc("CloudtailUserAgent", func(ctx context.Context, input middleware.BuildInput, next middleware.BuildHandler) (
			middleware.BuildOutput, middleware.Metadata, error,
		) {
			if req, ok := input.Request.(*smithyhttp.Request); ok {
				ua := req.Header.Get("User-Agent")
				req.Header.Set("User-Agent", strings.TrimSpace(ua+" cloudtail/"+version.Current))
			}
			return next.HandleBuild(ctx, input)
		}), middleware.After)
	})

	if callLog != nil {
		cfg.APIOptions = append(cfg.APIOptions, func(stack *middleware.Stack) error {
			return stack.Initialize.Add(middleware.InitializeMiddlewareFunc("CloudtailCallLogger", func(ctx context.Context, input middleware.InitializeInput, next middleware.InitializeHandler) (
				middleware.InitializeOutput, middleware.Metadata, error,
			) {
				callLog.DebugContext(ctx, "AWS API call",
					"service", middleware.GetServiceID(ctx),
					"operation", middleware.GetOperationName(ctx),
					"profile", profile)
				return next.HandleInitialize(ctx, input)
			}), middleware.Before)
		})
	}

	return &Client{
		Config: cfg,
		STS:    sts.NewFromConfig(cfg),
	}, nil
}

// VerifyIdentity returns the account id the credentials belong to.
func (c *Client) VerifyIdentity(ctx context.Context) (string, error) {
	out, err := c.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("get caller identity: %w", err)
	}
	if out.Account == nil || *out.Account == "" {
		return "", fmt.Errorf("get caller identity: response carries no account id")
	}
	return *out.Account, nil
}

// ListProfiles returns the profile names declared in the shared config and credentials
// files, sorted.
func ListProfiles() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	var paths []string
	if p := os.Getenv("AWS_CONFIG_FILE"); p != "" {
		paths = append(paths, p)
	} else {
		paths = append(paths, filepath.Join(home, ".aws", "config"))
	}
	if p := os.Getenv("AWS_SHARED_CREDENTIALS_FILE"); p != "" {
		paths = append(paths, p)
	} else {
		paths = append(paths, filepath.Join(home, ".aws", "credentials"))
	}

	re := regexp.MustCompile(`^\[(?:profile\s+)?([^\]]+)\]`)
	seen := make(map[string]bool)
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(content), "\n") {
			if m := re.FindStringSubmatch(strings.TrimSpace(line)); len(m) > 1 {
				seen[strings.TrimSpace(m[1])] = true
			}
		}
	}

	list := make([]string, 0, len(seen))
	for p := range seen {
		list = append(list, p)
	}
	sort.Strings(list)
	return list, nil
}
