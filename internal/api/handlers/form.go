// Package handlers provides HTTP handlers for formlog.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/narvanalabs/formlog/internal/form"
	"github.com/narvanalabs/formlog/internal/page"
	"github.com/narvanalabs/formlog/internal/recorder"
)

// FormHandler records POST submissions and always answers with the static page.
type FormHandler struct {
	recorder         *recorder.Recorder
	decoder          form.Decoder
	action           string
	emitConfirmation bool
	logger           *slog.Logger
}

// FormHandlerConfig configures a FormHandler.
type FormHandlerConfig struct {
	// Action is the path the page's form posts to.
	Action string
	// EmitConfirmation prepends the "Submitted" heading after a submission.
	EmitConfirmation bool
	// MaxBodyBytes caps the decoded body; larger bodies are not logged.
	MaxBodyBytes int64
}

// NewFormHandler creates a new form handler.
func NewFormHandler(rec *recorder.Recorder, cfg FormHandlerConfig, logger *slog.Logger) *FormHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FormHandler{
		recorder:         rec,
		decoder:          form.Decoder{MaxBodyBytes: cfg.MaxBodyBytes},
		action:           cfg.Action,
		emitConfirmation: cfg.EmitConfirmation,
		logger:           logger,
	}
}

// Handle handles every method on the handler path.
// Write failures are logged and never change the response.
func (h *FormHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetReqID(ctx)

	fields, err := h.decoder.Decode(r)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, form.ErrBodyTooLarge) {
			level = slog.LevelInfo
		}
		h.logger.Log(ctx, level, "form body not decoded, skipping log",
			"error", err,
			"request_id", requestID,
		)
		fields = nil
	}

	_, recorded, err := h.recorder.Record(ctx, fields)
	if err != nil {
		h.logger.Error("failed to append log line",
			"error", err,
			"request_id", requestID,
			"fields", len(fields),
		)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	if err := page.Page(h.action, recorded && h.emitConfirmation).Render(ctx, w); err != nil {
		h.logger.Warn("failed to write page", "error", err, "request_id", requestID)
	}
}
