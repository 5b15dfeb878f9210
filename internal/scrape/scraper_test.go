// File: internal/scrape/scraper_test.go
package scrape

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pvmigrate/internal/faultlog"
)

// recorder keeps one interleaved log of console and interceptor calls
// so ordering can be asserted across both fakes.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeConsole struct {
	rec *recorder
}

func (f *fakeConsole) Navigate(ctx context.Context, url string) error {
	f.rec.add("navigate " + url)
	return nil
}

func (f *fakeConsole) OpenTemplateEditor(ctx context.Context, templateID string) error {
	f.rec.add("open " + templateID)
	return nil
}

func (f *fakeConsole) DismissTemplateEditor(ctx context.Context) error {
	f.rec.add("dismiss")
	return nil
}

// fakeArmer resolves armed patterns from a canned response table; a
// pattern with no entry behaves like a response that never arrives.
type fakeArmer struct {
	rec       *recorder
	responses map[string][]byte
}

func (f *fakeArmer) Arm(pattern string, timeout time.Duration) responseCapture {
	f.rec.add("arm " + pattern)
	if body, ok := f.responses[pattern]; ok {
		return fakeCapture{body: body}
	}
	return fakeCapture{err: fmt.Errorf("timed out after %s waiting for response matching %q", timeout, pattern)}
}

type fakeCapture struct {
	body []byte
	err  error
}

func (f fakeCapture) Await(ctx context.Context) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

func newTestScraper(t *testing.T, responses map[string][]byte) (*Scraper, *recorder) {
	t.Helper()
	rec := &recorder{}
	return &Scraper{
		logger:     zap.NewNop(),
		console:    &fakeConsole{rec: rec},
		icept:      &fakeArmer{rec: rec, responses: responses},
		faults:     faultlog.New(filepath.Join(t.TempDir(), "error_log.txt"), zap.NewNop()),
		consoleURL: "https://console.example.com",
		apiPrefix:  "/api/proxy",
	}, rec
}

// faultEntries splits the scraper's fault file into its blank-line
// separated entries. A missing file means nothing was recorded.
func faultEntries(t *testing.T, s *Scraper) []string {
	t.Helper()
	raw, err := os.ReadFile(s.faults.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)

	var entries []string
	for _, chunk := range strings.Split(string(raw), "\n\n") {
		if strings.TrimSpace(chunk) != "" {
			entries = append(entries, chunk)
		}
	}
	return entries
}

// -- Failure Isolation --

func TestCasesMissingResponseYieldsEmptyListAndOneFault(t *testing.T) {
	s, _ := newTestScraper(t, nil)

	cases, err := s.Cases(context.Background())
	require.NoError(t, err, "a missed response is not fatal to the run")
	require.NotNil(t, cases)
	assert.Empty(t, cases)

	entries := faultEntries(t, s)
	require.Len(t, entries, 1, "exactly one fault entry per failed scrape")
	assert.Contains(t, entries[0], "case scrape failed")
}

func TestCasesMalformedBodyYieldsEmptyListAndOneFault(t *testing.T) {
	s, _ := newTestScraper(t, map[string][]byte{
		"/api/proxy/ediscovery/cases": []byte(`{"items": []}`),
	})

	cases, err := s.Cases(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cases)

	entries := faultEntries(t, s)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], "no value field")
}

func TestCasesCanceledContextIsFatalNotIsolated(t *testing.T) {
	s, _ := newTestScraper(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Cases(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, faultEntries(t, s), "cancellation is not a scrape fault")
}

func TestCommunicationsFaultNamesTheCase(t *testing.T) {
	s, _ := newTestScraper(t, nil)

	comms, err := s.Communications(context.Background(), Case{ID: "c7", DisplayName: "Case Seven"})
	require.NoError(t, err)
	assert.Empty(t, comms)

	entries := faultEntries(t, s)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], "c7")
}

// -- Template Row Walk --

func templateListResponses() map[string][]byte {
	return map[string][]byte{
		"/api/proxy/communicationTemplates": []byte(`{"value": [
			{"id": "t1", "name": "Standard Hold"},
			{"id": "t2", "name": "Quiet Hold"},
			{"id": "t3", "name": "Final Hold"}]}`),
		"/api/proxy/communicationTemplates/t1": []byte(`{"id": "t1", "name": "Standard Hold", "issuanceContent": "<p>one</p>"}`),
		"/api/proxy/communicationTemplates/t2": []byte(`{"id": "t2", "name": "Quiet Hold", "issuanceContent": "<p>two</p>"}`),
		"/api/proxy/communicationTemplates/t3": []byte(`{"id": "t3", "name": "Final Hold", "issuanceContent": "<p>three</p>"}`),
	}
}

func TestTemplatesWalksEveryRowSequentially(t *testing.T) {
	s, rec := newTestScraper(t, templateListResponses())

	templates, err := s.Templates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 3)
	assert.Equal(t, "Standard Hold", templates[0].Name)
	assert.Equal(t, "<p>three</p>", templates[2].IssuanceContent)

	// One open→capture→cancel cycle per row, strictly in list order,
	// with the detail capture armed before the row is opened.
	want := []string{
		"arm /api/proxy/communicationTemplates",
		"navigate https://console.example.com/communication-templates",
		"arm /api/proxy/communicationTemplates/t1",
		"open t1",
		"dismiss",
		"arm /api/proxy/communicationTemplates/t2",
		"open t2",
		"dismiss",
		"arm /api/proxy/communicationTemplates/t3",
		"open t3",
		"dismiss",
	}
	assert.Equal(t, want, rec.all())
}

func TestTemplatesSkipsOnlyTheBrokenRow(t *testing.T) {
	responses := templateListResponses()
	delete(responses, "/api/proxy/communicationTemplates/t2")
	s, _ := newTestScraper(t, responses)

	templates, err := s.Templates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 2, "the rows around the broken one survive")
	assert.Equal(t, "t1", templates[0].ID)
	assert.Equal(t, "t3", templates[1].ID)

	entries := faultEntries(t, s)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], "t2")
}

func TestTemplatesBackfillsNameFromListRow(t *testing.T) {
	responses := templateListResponses()
	responses["/api/proxy/communicationTemplates/t2"] = []byte(`{"id": "t2", "issuanceContent": "<p>two</p>"}`)
	s, _ := newTestScraper(t, responses)

	templates, err := s.Templates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 3)
	assert.Equal(t, "Quiet Hold", templates[1].Name, "a nameless editor payload takes the list row's name")
}

func TestTemplatesMissingListYieldsEmptyAndOneFault(t *testing.T) {
	s, rec := newTestScraper(t, nil)

	templates, err := s.Templates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, templates)

	entries := faultEntries(t, s)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], "template scrape failed")

	// No detail cycle runs without a list.
	for _, event := range rec.all() {
		assert.NotContains(t, event, "open")
	}
}
