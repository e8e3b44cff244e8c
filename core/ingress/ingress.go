// Package ingress receives Telegram webhook calls, authenticates them and
// enqueues the update for the worker.
package ingress

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/m3rciful/concierge/core/logger"
	"github.com/m3rciful/concierge/core/queue"
	"github.com/m3rciful/concierge/core/secrets"
	"github.com/m3rciful/concierge/core/telegram"
)

// SecretHeader carries the token Telegram echoes back on every webhook call.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// MaxBodyBytes bounds the accepted update size.
const MaxBodyBytes = 1 << 20

// Handler validates webhook calls and publishes them to the queue.
type Handler struct {
	secret   *secrets.Lazy[string]
	producer queue.Producer
	now      func() time.Time
}

// NewHandler returns a handler authenticating against the secret cell.
func NewHandler(secret *secrets.Lazy[string], producer queue.Producer) *Handler {
	return &Handler{secret: secret, producer: producer, now: time.Now}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.authorized(ctx, r.Header.Get(SecretHeader)) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			badRequest(ctx, w, "body_too_large", "Request body too large")
			return
		}
		badRequest(ctx, w, "read_failed", "Missing request body")
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		badRequest(ctx, w, "empty_body", "Missing request body")
		return
	}
	updateID, kind, err := telegram.Peek(body)
	if err != nil {
		badRequest(ctx, w, "invalid_json", "Invalid Telegram update")
		return
	}
	if updateID == 0 {
		badRequest(ctx, w, "missing_update_id", "Invalid Telegram update")
		return
	}

	ctx = logger.WithUpdateMeta(ctx, updateID, 0, 0)
	if !telegram.Supported(kind) {
		logger.Info(ctx, logger.CompIngress, "webhook.ignored", slog.String("event_type", kind))
		writeOK(w)
		return
	}

	env := queue.Envelope{
		EventType:  kind,
		Update:     json.RawMessage(body),
		ReceivedAt: h.now().UTC(),
		UpdateID:   updateID,
	}
	if err := h.producer.Publish(ctx, env); err != nil {
		logger.Error(ctx, logger.CompIngress, "webhook.enqueue_failed",
			slog.String("event_type", kind),
			logger.Err(err),
		)
		writeOK(w)
		return
	}
	logger.Info(ctx, logger.CompIngress, "webhook.enqueued", slog.String("event_type", kind))
	writeOK(w)
}

func (h *Handler) authorized(ctx context.Context, got string) bool {
	if got == "" {
		logger.Warn(ctx, logger.CompIngress, "webhook.unauthorized", slog.String("reason", "missing_header"))
		return false
	}
	want, err := h.secret.Get(ctx)
	if err != nil {
		logger.Warn(ctx, logger.CompIngress, "webhook.unauthorized",
			slog.String("reason", "secret_unavailable"),
			logger.Err(err),
		)
		return false
	}
	if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		logger.Warn(ctx, logger.CompIngress, "webhook.unauthorized", slog.String("reason", "mismatch"))
		return false
	}
	return true
}

func badRequest(ctx context.Context, w http.ResponseWriter, reason, msg string) {
	logger.Warn(ctx, logger.CompIngress, "webhook.rejected", slog.String("reason", reason))
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": msg})
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
