// File: internal/pipeline/pipeline.go

// Package pipeline sequences a migration run: ensure an authenticated
// browser session, scrape the selected artifact classes, and write the
// export files. Replay is a separate, browserless run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pvmigrate/internal/auth"
	"pvmigrate/internal/browser"
	"pvmigrate/internal/config"
	"pvmigrate/internal/export"
	"pvmigrate/internal/faultlog"
	"pvmigrate/internal/scrape"
)

// signInProbeSelector is the affordance whose presence after loading
// the console means our session is not (or no longer) good. Absence of
// a sign-in prompt is the only "logged in" oracle the console offers.
const signInProbeSelector = `input[name="loginfmt"]`

const signInProbeTimeout = 5 * time.Second

// Descriptor selects what one run scrapes. The same pipeline serves
// every entry point; only the descriptor differs.
type Descriptor struct {
	Name           string
	Templates      bool
	Cases          bool
	Communications bool
}

// FullExport is the everything descriptor used by the export command.
var FullExport = Descriptor{
	Name:           "full-export",
	Templates:      true,
	Cases:          true,
	Communications: true,
}

// Pipeline owns the per-run resources: one browser tab, one session
// store, one export store, one fault log.
type Pipeline struct {
	cfg      *config.Config
	logger   *zap.Logger
	faults   *faultlog.Log
	sessions *browser.SessionStore
	exports  *export.Store

	// StrictMFA makes a timed-out second factor fatal instead of
	// deferring to the sign-in probe.
	StrictMFA bool
}

// New assembles a pipeline from configuration.
func New(cfg *config.Config, logger *zap.Logger) (*Pipeline, error) {
	sessions, err := browser.NewSessionStore(cfg.Session, logger)
	if err != nil {
		return nil, err
	}
	exports, err := export.NewStore(cfg.Export.Dir, logger)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:      cfg,
		logger:   logger.Named("pipeline"),
		faults:   faultlog.New(faultlog.DefaultPath, logger),
		sessions: sessions,
		exports:  exports,
	}, nil
}

// Sessions exposes the session store for the session management command.
func (p *Pipeline) Sessions() *browser.SessionStore {
	return p.sessions
}

// Run executes one scrape-and-export run per the descriptor.
func (p *Pipeline) Run(ctx context.Context, d Descriptor) error {
	runID := uuid.NewString()
	log := p.logger.With(zap.String("run_id", runID), zap.String("descriptor", d.Name))
	log.Info("Starting migration run.")

	manager := browser.NewManager(ctx, p.cfg.Browser, p.logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			log.Warn("Browser shutdown was not clean.", zap.Error(err))
		}
	}()

	tab, err := manager.NewTab(ctx)
	if err != nil {
		return err
	}
	defer tab.Close()

	if err := p.ensureAuthenticated(ctx, &tabFlow{p: p, tab: tab}, log); err != nil {
		return err
	}

	icept := browser.NewInterceptor(tab, p.logger)
	if err := icept.Start(); err != nil {
		return err
	}
	defer icept.Stop()

	scraper := scrape.NewScraper(tab, icept, p.faults,
		p.cfg.Source.ConsoleURL, p.cfg.Source.APIPrefix, p.logger)

	if d.Templates {
		templates, err := scraper.Templates(ctx)
		if err != nil {
			return err
		}
		if err := p.exports.WriteTemplates(templates); err != nil {
			return err
		}
	}

	var cases []scrape.Case
	if d.Cases || d.Communications {
		cases, err = scraper.Cases(ctx)
		if err != nil {
			return err
		}
		if d.Cases {
			if err := p.exports.WriteCases(cases); err != nil {
				return err
			}
		}
	}

	if d.Communications {
		// Strictly sequential: the scrape shares one tab, and a case
		// whose communications fail still gets an (empty) export file.
		for _, c := range cases {
			comms, err := scraper.Communications(ctx, c)
			if err != nil {
				return err
			}
			if err := p.exports.WriteCommunications(c.ID, comms); err != nil {
				return err
			}
		}
	}

	log.Info("Migration run complete.")
	return nil
}

// Login performs just the authentication half of a run and saves the
// session, so later export runs can skip the interactive flow.
func (p *Pipeline) Login(ctx context.Context, force bool) error {
	username := p.cfg.Source.Username
	if force {
		if err := p.sessions.Clear(username); err != nil {
			return err
		}
	}

	manager := browser.NewManager(ctx, p.cfg.Browser, p.logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn("Browser shutdown was not clean.", zap.Error(err))
		}
	}()

	tab, err := manager.NewTab(ctx)
	if err != nil {
		return err
	}
	defer tab.Close()

	return p.ensureAuthenticated(ctx, &tabFlow{p: p, tab: tab}, p.logger)
}

// loginFlow is everything getting a tab to a signed-in console touches:
// the session store, the console page, and the interactive
// authenticator. The restore-or-login ordering lives above this seam.
type loginFlow interface {
	HasSession(username string) bool
	RestoreSession(ctx context.Context, username string) error
	ReplayOriginStorage(ctx context.Context, username string) error
	ClearSession(username string) error
	SaveSession(ctx context.Context, username string) error
	OpenConsole(ctx context.Context) error
	SignInPromptVisible(ctx context.Context) bool
	Authenticate(ctx context.Context, identity auth.Identity) (*auth.Result, error)
}

// tabFlow binds the login sequence to a live tab.
type tabFlow struct {
	p   *Pipeline
	tab *browser.Tab
}

func (f *tabFlow) HasSession(username string) bool {
	return f.p.sessions.Has(username)
}

func (f *tabFlow) RestoreSession(ctx context.Context, username string) error {
	return f.p.sessions.Restore(ctx, f.tab, username)
}

func (f *tabFlow) ReplayOriginStorage(ctx context.Context, username string) error {
	return f.p.sessions.ApplyOriginStorage(ctx, f.tab, username)
}

func (f *tabFlow) ClearSession(username string) error {
	return f.p.sessions.Clear(username)
}

func (f *tabFlow) SaveSession(ctx context.Context, username string) error {
	return f.p.sessions.Capture(ctx, f.tab, username)
}

func (f *tabFlow) OpenConsole(ctx context.Context) error {
	return f.tab.Navigate(ctx, f.p.cfg.Source.ConsoleURL)
}

func (f *tabFlow) SignInPromptVisible(ctx context.Context) bool {
	return f.p.signInPromptVisible(ctx, f.tab)
}

func (f *tabFlow) Authenticate(ctx context.Context, identity auth.Identity) (*auth.Result, error) {
	return auth.NewAuthenticator(f.p.cfg.Source.LoginURL, f.p.logger).Authenticate(ctx, f.tab, identity)
}

// ensureAuthenticated gets the tab to a signed-in console. An existing
// session file is restored and probed; only when that fails (or no file
// exists) does the interactive login run.
func (p *Pipeline) ensureAuthenticated(ctx context.Context, flow loginFlow, log *zap.Logger) error {
	identity := auth.Identity{
		Username: p.cfg.Source.Username,
		Password: p.cfg.Source.Password,
	}

	if flow.HasSession(identity.Username) {
		log.Info("Found existing session; restoring.", zap.String("username", identity.Username))
		if err := flow.RestoreSession(ctx, identity.Username); err != nil {
			return err
		}
		if err := flow.OpenConsole(ctx); err != nil {
			return err
		}
		if err := flow.ReplayOriginStorage(ctx, identity.Username); err != nil {
			log.Debug("Could not replay origin storage.", zap.Error(err))
		}
		if !flow.SignInPromptVisible(ctx) {
			log.Info("Restored session is valid; skipping interactive login.")
			return nil
		}
		log.Info("Restored session was rejected; falling back to interactive login.")
		if err := flow.ClearSession(identity.Username); err != nil {
			return err
		}
	}

	result, err := flow.Authenticate(ctx, identity)
	if err != nil {
		p.faults.Append("interactive authentication failed", err)
		return fmt.Errorf("authentication failed for %s: %w", identity.Username, err)
	}
	if result.SecondFactor == auth.SecondFactorTimedOut {
		// Best effort boundary: record it, then let the console probe
		// decide whether the run can proceed.
		p.faults.Append("second-factor wait timed out", nil)
		if p.StrictMFA {
			return fmt.Errorf("second-factor wait timed out for %s", identity.Username)
		}
	}

	if err := flow.OpenConsole(ctx); err != nil {
		return err
	}
	if flow.SignInPromptVisible(ctx) {
		return fmt.Errorf("console still shows a sign-in prompt after authentication for %s", identity.Username)
	}

	return flow.SaveSession(ctx, identity.Username)
}

// signInPromptVisible probes the loaded console for a login form. The
// probe is bounded and a timeout means "no prompt", i.e. signed in.
func (p *Pipeline) signInPromptVisible(ctx context.Context, tab *browser.Tab) bool {
	probeCtx, cancel := browser.CombineContext(tab.Context(), ctx)
	defer cancel()
	probeCtx, cancelTimeout := context.WithTimeout(probeCtx, signInProbeTimeout)
	defer cancelTimeout()

	err := chromedp.Run(probeCtx, chromedp.WaitVisible(signInProbeSelector, chromedp.ByQuery))
	return err == nil
}
