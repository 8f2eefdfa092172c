// Package server runs imgpub as a long-lived webhook receiver: push
// deliveries start runs, runs for the same branch preempt each other, and
// /metrics exposes the Prometheus registry.
package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"imgpub/internal/logfields"
	"imgpub/internal/metrics"
	"imgpub/internal/publish"
	"imgpub/internal/runtime"
)

// maxPayload caps webhook bodies (GitHub's own limit is 25 MB).
const maxPayload = 25 << 20

// Request asks for one run.
type Request struct {
	Trigger runtime.Trigger
	Event   *runtime.PushEvent // nil for scheduled runs
	Group   string             // concurrency group
}

// RunFunc executes one run. ctx is canceled when a newer run for the same
// group starts.
type RunFunc func(ctx context.Context, req Request) error

// Config holds the server settings.
type Config struct {
	Addr     string
	Secret   string   // webhook HMAC secret; empty disables verification
	Branches []string // branches that trigger runs; empty means all
}

// Server receives webhooks and dispatches runs.
type Server struct {
	cfg      Config
	run      RunFunc
	preempt  *publish.Preemptor
	registry *prom.Registry

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a server. reg may be nil when metrics are disabled.
func New(cfg Config, run RunFunc, reg *prom.Registry) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		run:      run,
		preempt:  publish.NewPreemptor(),
		registry: reg,
		baseCtx:  ctx,
		stop:     cancel,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.registry != nil {
		mux.Handle("/metrics", metrics.HTTPHandler(s.registry))
	}
	return mux
}

// Dispatch starts a run in the background under the Preemptor. The group
// is claimed before returning, so runs supersede each other in arrival
// order.
func (s *Server) Dispatch(req Request) {
	ctx, release := s.preempt.Acquire(s.baseCtx, req.Group)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()

		log := slog.With(logfields.Trigger(string(req.Trigger)), "group", req.Group)
		log.Info("Run started")
		if err := s.run(ctx, req); err != nil {
			log.Error("Run finished with failures", logfields.Error(err))
			return
		}
		log.Info("Run finished")
	}()
}

// Serve listens until ctx ends, then stops accepting requests, cancels
// in-flight runs and waits for them to report.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Webhook server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Shutdown()
	return err
}

// Shutdown cancels in-flight runs and waits for them.
func (s *Server) Shutdown() {
	s.stop()
	s.wg.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": s.preempt.Running()})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayload+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	if len(body) > maxPayload {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
		return
	}
	if !ValidSignature(body, r.Header.Get("X-Hub-Signature-256"), s.cfg.Secret) {
		slog.Warn("Rejected webhook with invalid signature", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	switch event := r.Header.Get("X-GitHub-Event"); event {
	case "ping":
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	case "push":
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored", "event": event})
		return
	}

	ev, err := runtime.ParsePushEvent(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !strings.HasPrefix(ev.Ref, "refs/heads/") {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored", "ref": ev.Ref})
		return
	}
	branch := ev.Branch()
	if ev.Deleted {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored", "branch": branch, "reason": "deleted"})
		return
	}
	if !s.branchAllowed(branch) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored", "branch": branch})
		return
	}

	group := ev.Repository.FullName + "@" + branch
	s.Dispatch(Request{Trigger: runtime.TriggerWebhook, Event: ev, Group: group})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "group": group, "sha": ev.After})
}

func (s *Server) branchAllowed(branch string) bool {
	if len(s.cfg.Branches) == 0 {
		return true
	}
	for _, b := range s.cfg.Branches {
		if b == branch {
			return true
		}
	}
	return false
}

// ValidSignature checks a "sha256=<hex>" HMAC of payload. An empty secret
// accepts every payload.
func ValidSignature(payload []byte, signature, secret string) bool {
	if secret == "" {
		return true
	}
	expected, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	calc := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(calc))
}

// Sign returns the X-Hub-Signature-256 value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
