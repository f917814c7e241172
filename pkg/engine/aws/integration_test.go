//go:build integration

package aws

import (
	"context"
	"testing"

	"github.com/DrSkyle/cloudtail/pkg/engine/failure"
	"github.com/DrSkyle/cloudtail/pkg/engine/source"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
)

// TestConnect_LocalStack resolves an identity against a real STS endpoint.
// Requires Docker.
func TestConnect_LocalStack(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := localstack.Run(ctx, "localstack/localstack:3.0")
	if err != nil {
		t.Fatalf("Failed to start LocalStack: %v", err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	}()

	endpoint, err := container.PortEndpoint(ctx, "4566/tcp", "http")
	if err != nil {
		t.Fatalf("Failed to get endpoint: %v", err)
	}
	t.Setenv("AWS_ENDPOINT_URL", endpoint)
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_CONFIG_FILE", t.TempDir()+"/config")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", t.TempDir()+"/credentials")

	conn := NewConnector(true)

	sess, err := conn.Connect(ctx, source.AccountRef{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// LocalStack's default account.
	if got := sess.Account().ID; got != "000000000000" {
		t.Errorf("account = %s", got)
	}

	_, err = conn.Connect(ctx, source.AccountRef{ID: "111122223333"})
	if !failure.Is(err, failure.Identity) {
		t.Errorf("expected identity mismatch, got %v", err)
	}
}
