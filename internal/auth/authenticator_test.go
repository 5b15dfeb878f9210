// File: internal/auth/authenticator_test.go
package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNewAuthenticatorDefaults(t *testing.T) {
	a := NewAuthenticator("https://login.microsoftonline.com", zap.NewNop())

	// The step bounds are part of the login contract: short probes for
	// the DOM steps, a long window for the human-paced second factor.
	assert.Equal(t, 5*time.Second, a.ChooserTimeout)
	assert.Equal(t, 5*time.Second, a.PasswordTimeout)
	assert.Equal(t, 60*time.Second, a.SecondFactorTimeout)
}

func TestSecondFactorOutcomes(t *testing.T) {
	// The outcome is an explicit tri-state; callers must be able to
	// tell a skipped challenge from a failed one.
	outcomes := []SecondFactorOutcome{SecondFactorCompleted, SecondFactorTimedOut, SecondFactorNotRequired}
	seen := make(map[SecondFactorOutcome]bool)
	for _, o := range outcomes {
		assert.NotEmpty(t, string(o))
		assert.False(t, seen[o], "outcomes must be distinct")
		seen[o] = true
	}
}
