// File: internal/scrape/scraper.go
package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pvmigrate/internal/browser"
	"pvmigrate/internal/faultlog"
)

const (
	// List responses get the long bound; the console's grids can take
	// a while to issue their first fetch. Per-row detail responses are
	// user-triggered and come back quickly or not at all.
	listTimeout   = 45 * time.Second
	detailTimeout = 15 * time.Second

	casesEndpoint          = "/ediscovery/cases"
	communicationsEndpoint = "/ediscovery/cases/%s/communications"
	templatesEndpoint      = "/communicationTemplates"

	editButtonSelector   = `button[name="Edit"]`
	cancelButtonSelector = `button[name="Cancel"]`

	dismissTimeout = 5 * time.Second
)

// console is the slice of tab behavior the scraper drives: page
// navigation plus the template editor panel.
type console interface {
	Navigate(ctx context.Context, url string) error
	OpenTemplateEditor(ctx context.Context, templateID string) error
	DismissTemplateEditor(ctx context.Context) error
}

// responseCapture is one armed interception awaiting its body.
type responseCapture interface {
	Await(ctx context.Context) ([]byte, error)
}

// armer registers response captures ahead of the UI actions that
// trigger them.
type armer interface {
	Arm(pattern string, timeout time.Duration) responseCapture
}

// target binds one scrape to the response that proves it worked: a URL
// substring to intercept, a bound, and the UI action expected to
// trigger the matching request.
type target struct {
	name    string
	pattern string
	timeout time.Duration
	trigger func(ctx context.Context) error
}

// Scraper runs scrape targets against an authenticated console tab.
// Failures are isolated per target: a scrape that times out or returns
// garbage is logged to the fault file and yields an empty result, so
// the run can continue with the remaining targets.
type Scraper struct {
	logger  *zap.Logger
	console console
	icept   armer
	faults  *faultlog.Log

	consoleURL string
	apiPrefix  string
}

// NewScraper wires a scraper to a tab whose interceptor is already
// started.
func NewScraper(tab *browser.Tab, icept *browser.Interceptor, faults *faultlog.Log, consoleURL, apiPrefix string, logger *zap.Logger) *Scraper {
	return &Scraper{
		logger:     logger.Named("scrape"),
		console:    &tabConsole{tab: tab},
		icept:      tabArmer{icept: icept},
		faults:     faults,
		consoleURL: consoleURL,
		apiPrefix:  apiPrefix,
	}
}

// tabArmer adapts the browser interceptor to the armer seam.
type tabArmer struct {
	icept *browser.Interceptor
}

func (a tabArmer) Arm(pattern string, timeout time.Duration) responseCapture {
	return a.icept.Arm(pattern, timeout)
}

// tabConsole drives the console UI in a live tab.
type tabConsole struct {
	tab *browser.Tab
}

func (c *tabConsole) Navigate(ctx context.Context, url string) error {
	return c.tab.Navigate(ctx, url)
}

func (c *tabConsole) OpenTemplateEditor(ctx context.Context, templateID string) error {
	rowSelector := fmt.Sprintf(`div[role="row"][data-template-id=%q]`, templateID)
	runCtx, cancel := browser.CombineContext(c.tab.Context(), ctx)
	defer cancel()
	return chromedp.Run(runCtx,
		chromedp.Click(rowSelector, chromedp.ByQuery),
		chromedp.WaitVisible(editButtonSelector, chromedp.ByQuery),
		chromedp.Click(editButtonSelector, chromedp.ByQuery),
	)
}

func (c *tabConsole) DismissTemplateEditor(ctx context.Context) error {
	dismissCtx, cancelCombined := browser.CombineContext(c.tab.Context(), ctx)
	defer cancelCombined()
	dismissCtx, cancel := context.WithTimeout(dismissCtx, dismissTimeout)
	defer cancel()
	return chromedp.Run(dismissCtx,
		chromedp.WaitVisible(cancelButtonSelector, chromedp.ByQuery),
		chromedp.Click(cancelButtonSelector, chromedp.ByQuery),
	)
}

// capture is the arm/trigger/await rendezvous every scrape is built on.
// The listener is armed before the trigger fires so the response cannot
// slip past between the two.
func (s *Scraper) capture(ctx context.Context, t target) ([]byte, error) {
	pending := s.icept.Arm(t.pattern, t.timeout)

	var body []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := pending.Await(gctx)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	g.Go(func() error {
		return t.trigger(gctx)
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%s scrape failed: %w", t.name, err)
	}
	return body, nil
}

// Cases navigates to the case list and returns every case record the
// console's backend reports.
func (s *Scraper) Cases(ctx context.Context) ([]Case, error) {
	body, err := s.capture(ctx, target{
		name:    "cases",
		pattern: s.apiPrefix + casesEndpoint,
		timeout: listTimeout,
		trigger: func(tctx context.Context) error {
			return s.console.Navigate(tctx, s.consoleURL+"/cases")
		},
	})
	if err != nil {
		return s.emptyCases(ctx, err)
	}

	cases, err := DecodeCases(body)
	if err != nil {
		return s.emptyCases(ctx, err)
	}

	s.logger.Info("Scraped case list.", zap.Int("count", len(cases)))
	return cases, nil
}

func (s *Scraper) emptyCases(ctx context.Context, err error) ([]Case, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.logger.Warn("Case scrape produced no results.", zap.Error(err))
	s.faults.Append("case scrape failed", err)
	return []Case{}, nil
}

// Communications opens one case and captures its communication list.
// A failure affects only this case; the caller moves on to the next.
func (s *Scraper) Communications(ctx context.Context, c Case) ([]Communication, error) {
	body, err := s.capture(ctx, target{
		name:    "communications",
		pattern: s.apiPrefix + fmt.Sprintf(communicationsEndpoint, c.ID),
		timeout: listTimeout,
		trigger: func(tctx context.Context) error {
			return s.console.Navigate(tctx, fmt.Sprintf("%s/cases/%s/communications", s.consoleURL, c.ID))
		},
	})
	if err != nil {
		return s.emptyCommunications(ctx, c, err)
	}

	comms, err := DecodeCommunications(body, c.ID)
	if err != nil {
		return s.emptyCommunications(ctx, c, err)
	}

	s.logger.Info("Scraped case communications.",
		zap.String("case_id", c.ID),
		zap.String("case", c.DisplayName),
		zap.Int("count", len(comms)),
	)
	return comms, nil
}

func (s *Scraper) emptyCommunications(ctx context.Context, c Case, err error) ([]Communication, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.logger.Warn("Communication scrape produced no results.",
		zap.String("case_id", c.ID),
		zap.Error(err),
	)
	s.faults.Append(fmt.Sprintf("communication scrape failed for case %s", c.ID), err)
	return []Communication{}, nil
}

// Templates captures the template list, then walks the list view row by
// row: arm the detail wait, open the row's edit panel, capture the
// detail response, cancel out. The console supports one open panel at a
// time, so the loop is strictly sequential.
func (s *Scraper) Templates(ctx context.Context) ([]Template, error) {
	listBody, err := s.capture(ctx, target{
		name:    "template list",
		pattern: s.apiPrefix + templatesEndpoint,
		timeout: listTimeout,
		trigger: func(tctx context.Context) error {
			return s.console.Navigate(tctx, s.consoleURL+"/communication-templates")
		},
	})
	if err != nil {
		return s.emptyTemplates(ctx, err)
	}

	listed, err := DecodeTemplateList(listBody)
	if err != nil {
		return s.emptyTemplates(ctx, err)
	}
	s.logger.Info("Scraped template list.", zap.Int("count", len(listed)))

	templates := make([]Template, 0, len(listed))
	for _, entry := range listed {
		detail, err := s.templateDetail(ctx, entry)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// One broken row should not cost the rest of the list.
			s.logger.Warn("Template detail scrape failed; skipping.",
				zap.String("template_id", entry.ID),
				zap.Error(err),
			)
			s.faults.Append(fmt.Sprintf("template detail scrape failed for %s", entry.ID), err)
			continue
		}
		templates = append(templates, *detail)
	}
	return templates, nil
}

func (s *Scraper) emptyTemplates(ctx context.Context, err error) ([]Template, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.logger.Warn("Template scrape produced no results.", zap.Error(err))
	s.faults.Append("template scrape failed", err)
	return []Template{}, nil
}

// templateDetail performs one open→capture→cancel cycle for a row.
func (s *Scraper) templateDetail(ctx context.Context, entry Template) (*Template, error) {
	body, err := s.capture(ctx, target{
		name:    "template detail",
		pattern: s.apiPrefix + templatesEndpoint + "/" + entry.ID,
		timeout: detailTimeout,
		trigger: func(tctx context.Context) error {
			return s.console.OpenTemplateEditor(tctx, entry.ID)
		},
	})
	if err != nil {
		return nil, err
	}

	// Dismiss the panel regardless of what the body decodes to, so the
	// next row starts from a clean list view.
	if dismissErr := s.console.DismissTemplateEditor(ctx); dismissErr != nil {
		s.logger.Debug("Could not dismiss template panel.", zap.Error(dismissErr))
	}

	detail, err := DecodeTemplateDetail(body)
	if err != nil {
		return nil, err
	}
	if detail.Name == "" {
		detail.Name = entry.Name
	}
	return detail, nil
}
