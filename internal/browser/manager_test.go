// File: internal/browser/manager_test.go
package browser

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"pvmigrate/internal/config"
)

// -- Context Plumbing --

func TestCombineContextSecondaryCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	parent := context.Background()
	secondary, cancelSecondary := context.WithCancel(context.Background())

	combined, cancel := CombineContext(parent, secondary)
	defer cancel()

	cancelSecondary()
	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context must die with the secondary context")
	}
}

func TestCombineContextOwnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	combined, cancel := CombineContext(context.Background(), context.Background())
	cancel()

	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context must honor its own cancel")
	}
}

// -- Browser Lifecycle --

// TestManagerLifecycle drives a real Chrome instance and is gated
// behind an environment switch so the suite stays runnable on machines
// without a browser.
func TestManagerLifecycle(t *testing.T) {
	if os.Getenv("PVMIGRATE_BROWSER_TESTS") == "" {
		t.Skip("set PVMIGRATE_BROWSER_TESTS=1 to run browser integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	manager := NewManager(ctx, config.BrowserConfig{Headless: true}, zap.NewNop())

	tab, err := manager.NewTab(ctx)
	require.NoError(t, err)
	require.NoError(t, tab.Navigate(ctx, "about:blank"))
	tab.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()
	assert.NoError(t, manager.Shutdown(shutdownCtx))
}
