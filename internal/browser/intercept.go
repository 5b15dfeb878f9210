// File: internal/browser/intercept.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// pendingCapture tracks one armed interception from the moment a
// matching request is seen until its body has been fetched.
type pendingCapture struct {
	pattern   string
	requestID network.RequestID
	matched   bool
	ready     chan struct{} // closed once the body (or a failure) is in
	body      []byte
	err       error
}

// Interceptor watches a tab's network traffic and hands back the body
// of the first response whose URL contains an armed substring pattern.
// Arm before triggering the navigation or click that produces the
// response, then Await; arming after the fact races the network and
// will usually miss.
type Interceptor struct {
	logger *zap.Logger
	tab    *Tab

	lock    sync.Mutex
	pending []*pendingCapture
	// Responses whose headers arrived but whose bodies are not yet
	// readable; resolved on LoadingFinished.
	inflight map[network.RequestID]*pendingCapture

	started bool
	cancel  context.CancelFunc
}

// NewInterceptor attaches an interceptor to a tab. Start must be called
// before any capture can be armed.
func NewInterceptor(tab *Tab, logger *zap.Logger) *Interceptor {
	return &Interceptor{
		logger:   logger.Named("intercept"),
		tab:      tab,
		inflight: make(map[network.RequestID]*pendingCapture),
	}
}

// Start begins listening for network events on the tab.
func (i *Interceptor) Start() error {
	i.lock.Lock()
	defer i.lock.Unlock()

	if i.started {
		return nil
	}

	listenerCtx, cancel := context.WithCancel(i.tab.Context())
	i.cancel = cancel

	chromedp.ListenTarget(listenerCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			i.handleResponseReceived(e)
		case *network.EventLoadingFinished:
			i.handleLoadingFinished(e)
		case *network.EventLoadingFailed:
			i.handleLoadingFailed(e)
		}
	})

	if err := chromedp.Run(i.tab.Context(), network.Enable()); err != nil {
		cancel()
		return fmt.Errorf("failed to enable network events: %w", err)
	}

	i.started = true
	i.logger.Debug("Interceptor listening for network events.")
	return nil
}

// Stop detaches the listener. Outstanding captures fail with a timeout
// on their own deadlines.
func (i *Interceptor) Stop() {
	i.lock.Lock()
	defer i.lock.Unlock()
	if i.cancel != nil {
		i.cancel()
		i.cancel = nil
	}
	i.started = false
}

// PendingResponse is a handle to one armed capture.
type PendingResponse struct {
	interceptor *Interceptor
	capture     *pendingCapture
	timeout     time.Duration
}

// Arm registers interest in the next response whose URL contains
// pattern. The returned handle's Await blocks until the body arrives or
// the timeout lapses.
func (i *Interceptor) Arm(pattern string, timeout time.Duration) *PendingResponse {
	c := &pendingCapture{
		pattern: pattern,
		ready:   make(chan struct{}),
	}

	i.lock.Lock()
	i.pending = append(i.pending, c)
	i.lock.Unlock()

	i.logger.Debug("Armed response capture.",
		zap.String("pattern", pattern),
		zap.Duration("timeout", timeout),
	)
	return &PendingResponse{interceptor: i, capture: c, timeout: timeout}
}

// Await blocks until the captured body is available. A capture that
// never matches, or whose body cannot be read, returns an error after
// the armed timeout.
func (p *PendingResponse) Await(ctx context.Context) ([]byte, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	select {
	case <-p.capture.ready:
		if p.capture.err != nil {
			return nil, p.capture.err
		}
		return p.capture.body, nil
	case <-waitCtx.Done():
		p.interceptor.disarm(p.capture)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("timed out after %s waiting for response matching %q", p.timeout, p.capture.pattern)
	}
}

// disarm removes a capture that will never be resolved so it cannot
// swallow a later response meant for a fresh arm of the same pattern.
func (i *Interceptor) disarm(c *pendingCapture) {
	i.lock.Lock()
	defer i.lock.Unlock()

	for idx, p := range i.pending {
		if p == c {
			i.pending = append(i.pending[:idx], i.pending[idx+1:]...)
			break
		}
	}
	if c.matched {
		delete(i.inflight, c.requestID)
	}
}

// -- Event handlers --

func (i *Interceptor) handleResponseReceived(e *network.EventResponseReceived) {
	i.lock.Lock()
	defer i.lock.Unlock()

	for idx, c := range i.pending {
		if !strings.Contains(e.Response.URL, c.pattern) {
			continue
		}
		c.matched = true
		c.requestID = e.RequestID
		i.pending = append(i.pending[:idx], i.pending[idx+1:]...)
		i.inflight[e.RequestID] = c

		i.logger.Debug("Response matched armed pattern.",
			zap.String("pattern", c.pattern),
			zap.String("url", e.Response.URL),
			zap.Int64("status", e.Response.Status),
		)
		return
	}
}

func (i *Interceptor) handleLoadingFinished(e *network.EventLoadingFinished) {
	i.lock.Lock()
	c, ok := i.inflight[e.RequestID]
	if ok {
		delete(i.inflight, e.RequestID)
	}
	i.lock.Unlock()

	if !ok {
		return
	}
	// The body can only be read once loading has finished, and the
	// fetch must not run inside the event callback.
	go i.fetchBody(c)
}

func (i *Interceptor) handleLoadingFailed(e *network.EventLoadingFailed) {
	i.lock.Lock()
	c, ok := i.inflight[e.RequestID]
	if ok {
		delete(i.inflight, e.RequestID)
	}
	i.lock.Unlock()

	if !ok {
		return
	}
	c.err = fmt.Errorf("request matching %q failed to load: %s", c.pattern, e.ErrorText)
	close(c.ready)
}

func (i *Interceptor) fetchBody(c *pendingCapture) {
	tabCtx := i.tab.Context()
	if tabCtx.Err() != nil {
		c.err = tabCtx.Err()
		close(c.ready)
		return
	}

	ctx, cancel := context.WithTimeout(tabCtx, 15*time.Second)
	defer cancel()

	// GetResponseBody must execute against the tab's target, not a
	// derived chromedp.Run context.
	execCtx := cdp.WithExecutor(ctx, chromedp.FromContext(tabCtx).Target)
	body, err := network.GetResponseBody(c.requestID).Do(execCtx)
	if err != nil {
		c.err = fmt.Errorf("failed to read body for response matching %q: %w", c.pattern, err)
	} else {
		c.body = body
	}
	close(c.ready)
}
