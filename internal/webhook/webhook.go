// Package webhook serves a GitHub push webhook that triggers deep refreshes
// of the workspace, together with the metrics endpoint.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/schaermu/wcsync/internal/activation"
	"github.com/schaermu/wcsync/internal/config"
	"github.com/schaermu/wcsync/internal/metrics"
	"github.com/schaermu/wcsync/internal/wcpath"
)

// GitHubPushEvent represents the relevant fields from a GitHub push webhook
type GitHubPushEvent struct {
	Ref        string       `json:"ref"`
	After      string       `json:"after"`
	Created    bool         `json:"created"`
	Deleted    bool         `json:"deleted"`
	Forced     bool         `json:"forced"`
	Commits    []pushCommit `json:"commits"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// Refresher runs one deep refresh below roots. Nil roots refresh the whole
// workspace.
type Refresher interface {
	Refresh(ctx context.Context, roots []wcpath.Path) error
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, roots []wcpath.Path) error

// Refresh calls f.
func (f RefresherFunc) Refresh(ctx context.Context, roots []wcpath.Path) error { return f(ctx, roots) }

// Server implements the webhook HTTP server
type Server struct {
	cfg            *config.Config
	refresher      Refresher
	logger         *slog.Logger
	secret         []byte
	refreshMu      sync.Mutex   // guards refreshRunning, refreshPending and queue
	refreshRunning bool         // whether a refresh is currently in progress
	refreshPending bool         // whether another refresh is needed after the current one
	queue          refreshQueue // roots of the next refresh
	debounce       *debouncer

	baseMu  sync.Mutex
	baseCtx context.Context // canceled when Start returns
}

// debouncer implements debouncing for webhook events
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
}

// NewServer creates a new webhook server
func NewServer(cfg *config.Config, refresher Refresher, logger *slog.Logger) (*Server, error) {
	secret, err := os.ReadFile(cfg.Serve.GitHubWebhookSecretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook secret: %w", err)
	}

	// Trim any whitespace/newlines from secret
	secret = []byte(strings.TrimSpace(string(secret)))

	return &Server{
		cfg:       cfg,
		refresher: refresher,
		logger:    logger,
		secret:    secret,
		debounce:  &debouncer{delay: cfg.Serve.Debounce},
		baseCtx:   context.Background(),
	}, nil
}

// Handler returns the server's routes: the metrics endpoint and the webhook
// on every other path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Serve.MetricsPath, metrics.Handler())
	mux.HandleFunc("/", s.handleWebhook)
	return metrics.Middleware(mux)
}

// Start starts the webhook HTTP server, performing an initial refresh first.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.baseMu.Lock()
	s.baseCtx = ctx
	s.baseMu.Unlock()

	s.logger.Info("performing initial refresh before starting webhook server")
	s.enqueue(nil, true)
	s.performRefresh(ctx)

	listener, activated, err := activation.Listen(s.cfg.Serve.ListenAddr)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webhook server starting",
			"addr", listener.Addr().String(),
			"socket_activated", activated,
			"metrics_path", s.cfg.Serve.MetricsPath)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down webhook server")
		s.debounce.stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleWebhook handles incoming GitHub webhook requests
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	// Only accept POST requests
	if r.Method != http.MethodPost {
		s.logger.Warn("rejecting non-POST request", "method", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Check content type
	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" {
		s.logger.Warn("rejecting request with invalid content type", "content_type", contentType)
		http.Error(w, "Invalid content type", http.StatusBadRequest)
		return
	}

	// Read body
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MB limit
	if err != nil {
		s.logger.Error("failed to read request body", "error", err)
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	// Verify signature
	signature := r.Header.Get("X-Hub-Signature-256")
	if !s.verifySignature(body, signature) {
		s.logger.Warn("rejecting request with invalid signature")
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	s.logger.Info("received webhook", "event", eventType)

	if !s.isEventTypeAllowed(eventType) {
		s.logger.Info("ignoring disallowed event type", "event", eventType)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "Event type not configured for refresh\n")
		return
	}

	var event GitHubPushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.logger.Error("failed to parse webhook payload", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	if !s.isRefAllowed(event.Ref) {
		s.logger.Info("ignoring disallowed ref", "ref", event.Ref)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "Ref not configured for refresh\n")
		return
	}

	roots, scoped := event.ChangedRoots()
	s.logger.Info("webhook accepted",
		"event", eventType,
		"ref", event.Ref,
		"commit", event.After,
		"repo", event.Repository.FullName,
		"roots", len(roots),
		"full", !scoped)

	s.enqueue(roots, !scoped)
	s.debounce.trigger(func() {
		s.baseMu.Lock()
		ctx := s.baseCtx
		s.baseMu.Unlock()
		s.performRefresh(ctx)
	})

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "Refresh triggered\n")
}

// verifySignature verifies the GitHub webhook signature
func (s *Server) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}

	// GitHub signature format: sha256=<hex>
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	// Constant-time comparison
	return hmac.Equal([]byte(signature), []byte(expected))
}

// isEventTypeAllowed checks if the event type is in the allowed list
func (s *Server) isEventTypeAllowed(eventType string) bool {
	if len(s.cfg.Serve.AllowedEventTypes) == 0 {
		return true // no filter configured
	}

	for _, allowed := range s.cfg.Serve.AllowedEventTypes {
		if eventType == allowed {
			return true
		}
	}
	return false
}

// isRefAllowed checks if the ref is in the allowed list
func (s *Server) isRefAllowed(ref string) bool {
	if len(s.cfg.Serve.AllowedRefs) == 0 {
		return true // no filter configured
	}

	for _, allowed := range s.cfg.Serve.AllowedRefs {
		if ref == allowed {
			return true
		}
	}
	return false
}

// enqueue adds roots to the scope of the next refresh.
func (s *Server) enqueue(roots []wcpath.Path, full bool) {
	s.refreshMu.Lock()
	s.queue.add(roots, full)
	s.refreshMu.Unlock()
}

// performRefresh runs the refresher over the queued roots with single-flight
// semantics. If a refresh is already in progress, at most one additional run
// is queued and it covers every root requested in the meantime.
func (s *Server) performRefresh(ctx context.Context) {
	s.refreshMu.Lock()
	if s.refreshRunning {
		s.refreshPending = true
		s.refreshMu.Unlock()
		s.logger.Info("refresh already in progress, queuing pending re-run")
		return
	}
	s.refreshRunning = true
	s.refreshMu.Unlock()

	for {
		s.refreshMu.Lock()
		roots, ok := s.queue.take()
		s.refreshMu.Unlock()

		switch {
		case !ok:
		case ctx.Err() != nil:
			s.logger.Info("skipping refresh, server is shutting down")
		default:
			if err := s.refresher.Refresh(ctx, roots); err != nil {
				s.logger.Error("refresh failed", "roots", roots, "error", err)
			} else {
				s.logger.Info("refresh completed successfully", "roots", roots)
			}
		}

		// Atomically check whether another refresh was requested while we were
		// running. If not, release the running slot and stop; if yes, clear
		// the flag and loop to service that one pending request.
		s.refreshMu.Lock()
		if !s.refreshPending {
			s.refreshRunning = false
			s.refreshMu.Unlock()
			break
		}
		s.refreshPending = false
		s.refreshMu.Unlock()

		s.logger.Info("re-running refresh due to pending request")
	}
}

// trigger schedules the callback to run after the debounce delay
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}

// stop cancels a scheduled callback.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.callback = nil
}
