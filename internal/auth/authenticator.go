// File: internal/auth/authenticator.go

// Package auth drives the interactive identity-provider login: username,
// password, then a bounded window for the human to complete any second
// factor on their device.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"pvmigrate/internal/browser"
)

// Identity is one username/password pair for the identity provider.
type Identity struct {
	Username string
	Password string
}

// SecondFactorOutcome records how the second-factor step resolved.
// The step is best effort: a timeout is logged, not fatal, because the
// post-login sign-in probe is what actually decides whether the session
// is usable.
type SecondFactorOutcome string

const (
	// SecondFactorCompleted means the provider redirected away from the
	// login origin within the wait window.
	SecondFactorCompleted SecondFactorOutcome = "completed"
	// SecondFactorTimedOut means the window lapsed with the page still
	// on the login origin.
	SecondFactorTimedOut SecondFactorOutcome = "timed-out"
	// SecondFactorNotRequired means the provider skipped the challenge
	// entirely, usually because a prior session was still honored.
	SecondFactorNotRequired SecondFactorOutcome = "not-required"
)

// Result describes a finished authentication attempt.
type Result struct {
	Identity     Identity
	SecondFactor SecondFactorOutcome
}

const (
	defaultChooserTimeout      = 5 * time.Second
	defaultPasswordTimeout     = 5 * time.Second
	defaultSecondFactorTimeout = 60 * time.Second

	loginOrigin = "login.microsoftonline.com"

	usernameSelector = `input[name="loginfmt"]`
	passwordSelector = `input[name="passwd"]`
	submitSelector   = `input[type="submit"]`
)

// Authenticator performs the login flow against a browser tab.
type Authenticator struct {
	logger   *zap.Logger
	loginURL string

	// Step bounds, overridable for tests.
	ChooserTimeout      time.Duration
	PasswordTimeout     time.Duration
	SecondFactorTimeout time.Duration
}

// NewAuthenticator creates an authenticator targeting the given
// identity-provider login URL.
func NewAuthenticator(loginURL string, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		logger:              logger.Named("auth"),
		loginURL:            loginURL,
		ChooserTimeout:      defaultChooserTimeout,
		PasswordTimeout:     defaultPasswordTimeout,
		SecondFactorTimeout: defaultSecondFactorTimeout,
	}
}

// Authenticate walks the identity through the provider's login pages.
// It returns an error only when the username or password steps fail;
// a second factor that never completes is reported in the Result and
// left for the caller's sign-in probe to judge.
func (a *Authenticator) Authenticate(ctx context.Context, tab *browser.Tab, identity Identity) (*Result, error) {
	log := a.logger.With(zap.String("username", identity.Username))
	log.Info("Starting interactive authentication.")

	if err := tab.Navigate(ctx, a.loginURL); err != nil {
		return nil, fmt.Errorf("failed to open login page: %w", err)
	}

	// A still-valid provider session redirects straight past the forms.
	if redirected, err := a.leftLoginOrigin(ctx, tab); err != nil {
		return nil, err
	} else if redirected {
		log.Info("Provider redirected immediately; no challenge presented.")
		return &Result{Identity: identity, SecondFactor: SecondFactorNotRequired}, nil
	}

	if err := a.submitUsername(ctx, tab, identity, log); err != nil {
		return nil, err
	}
	if err := a.submitPassword(ctx, tab, identity); err != nil {
		return nil, err
	}

	outcome := a.awaitSecondFactor(ctx, tab, log)
	log.Info("Authentication flow finished.", zap.String("second_factor", string(outcome)))
	return &Result{Identity: identity, SecondFactor: outcome}, nil
}

// submitUsername prefers an account-chooser tile when one is rendered
// for this identity; otherwise it types into the username field. The
// chooser probe can false-negative if the tiles render slowly, in which
// case the manual path fails below with a selector timeout.
func (a *Authenticator) submitUsername(ctx context.Context, tab *browser.Tab, identity Identity, log *zap.Logger) error {
	tileSelector := fmt.Sprintf(`div[data-test-id=%q]`, identity.Username)

	probeCtx, cancel := boundedTabContext(ctx, tab, a.ChooserTimeout)
	err := chromedp.Run(probeCtx,
		chromedp.WaitVisible(tileSelector, chromedp.ByQuery),
		chromedp.Click(tileSelector, chromedp.ByQuery),
	)
	cancel()
	if err == nil {
		log.Debug("Selected identity from account chooser.")
		return nil
	}

	log.Debug("No account chooser tile; entering username manually.")
	fillCtx, cancel := boundedTabContext(ctx, tab, a.ChooserTimeout)
	defer cancel()
	err = chromedp.Run(fillCtx,
		chromedp.WaitVisible(usernameSelector, chromedp.ByQuery),
		chromedp.SendKeys(usernameSelector, identity.Username, chromedp.ByQuery),
		chromedp.Click(submitSelector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("username step failed for %s: %w", identity.Username, err)
	}
	return nil
}

func (a *Authenticator) submitPassword(ctx context.Context, tab *browser.Tab, identity Identity) error {
	stepCtx, cancel := boundedTabContext(ctx, tab, a.PasswordTimeout)
	defer cancel()

	err := chromedp.Run(stepCtx,
		chromedp.WaitVisible(passwordSelector, chromedp.ByQuery),
		chromedp.SendKeys(passwordSelector, identity.Password, chromedp.ByQuery),
		chromedp.Click(submitSelector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("password step failed for %s: %w", identity.Username, err)
	}
	return nil
}

// awaitSecondFactor polls the tab URL until the provider redirects off
// its login origin, or the window lapses. The human completes the
// challenge out of band; there is nothing for us to click.
func (a *Authenticator) awaitSecondFactor(ctx context.Context, tab *browser.Tab, log *zap.Logger) SecondFactorOutcome {
	log.Info("Waiting for second-factor completion.",
		zap.Duration("window", a.SecondFactorTimeout),
	)

	deadline := time.Now().Add(a.SecondFactorTimeout)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return SecondFactorTimedOut
		case <-ticker.C:
			redirected, err := a.leftLoginOrigin(ctx, tab)
			if err != nil {
				log.Warn("Could not read page location during second-factor wait.", zap.Error(err))
				return SecondFactorTimedOut
			}
			if redirected {
				return SecondFactorCompleted
			}
			if time.Now().After(deadline) {
				log.Warn("Second-factor window lapsed without a redirect.")
				return SecondFactorTimedOut
			}
		}
	}
}

func (a *Authenticator) leftLoginOrigin(ctx context.Context, tab *browser.Tab) (bool, error) {
	var location string
	stepCtx, cancel := boundedTabContext(ctx, tab, 5*time.Second)
	defer cancel()
	if err := chromedp.Run(stepCtx, chromedp.Location(&location)); err != nil {
		return false, fmt.Errorf("failed to read page location: %w", err)
	}
	return location != "" && !strings.Contains(location, loginOrigin), nil
}

// boundedTabContext derives a run context that dies with the tab, the
// caller's context, or the step timeout, whichever comes first.
func boundedTabContext(ctx context.Context, tab *browser.Tab, timeout time.Duration) (context.Context, context.CancelFunc) {
	combined, cancelCombined := browser.CombineContext(tab.Context(), ctx)
	bounded, cancelBounded := context.WithTimeout(combined, timeout)
	return bounded, func() {
		cancelBounded()
		cancelCombined()
	}
}
