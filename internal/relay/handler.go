package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/tjfontaine/workflow-relay/internal/github"
	"github.com/tjfontaine/workflow-relay/internal/server"
)

const defaultMaxBodyBytes = 100 << 10

// HandlerOption configures the handler.
type HandlerOption func(*Handler)

// WithMaxBodyBytes limits the size of an inbound request body.
// Values <= 0 keep the default.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

type Handler struct {
	dispatcher   Dispatcher
	workflow     github.Workflow
	logger       *slog.Logger
	maxBodyBytes int64
}

func NewHandler(dispatcher Dispatcher, workflow github.Workflow, logger *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		dispatcher:   dispatcher,
		workflow:     workflow,
		logger:       logger,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleTriggerWorkflow relays the request's manifest to the configured
// workflow. The upstream call finishes before any response is written.
func (h *Handler) HandleTriggerWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := h.decode(w, r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, Result{Error: errTooLarge})
			return
		}
		server.AddError(ctx, err)
		writeJSON(w, http.StatusBadRequest, Result{Error: errInvalidBody, Details: strPtr(err.Error())})
		return
	}

	if isFalsy(req.Manifest) {
		writeJSON(w, http.StatusBadRequest, Result{Error: errManifestMissing})
		return
	}

	result, err := h.dispatcher.DispatchWorkflow(ctx, h.workflow, req.Manifest)
	if err != nil {
		h.logger.ErrorContext(ctx, "workflow dispatch failed",
			slog.String("request_id", server.GetRequestID(ctx)),
			slog.String("workflow", h.workflow.File),
			slog.String("error", err.Error()),
		)
		server.AddError(ctx, err)
		writeJSON(w, http.StatusInternalServerError, Result{Error: errServer, Details: strPtr(err.Error())})
		return
	}

	server.AddLogField(ctx, "upstream_status", strconv.Itoa(result.StatusCode))

	if !result.Triggered() {
		writeJSON(w, http.StatusInternalServerError, Result{
			Error:   fmt.Sprintf("GitHub API error: %d", result.StatusCode),
			Details: strPtr(result.Body),
		})
		return
	}

	writeJSON(w, http.StatusOK, Result{Success: true, Message: msgTriggered})
}

// decode reads the JSON body. Bodies that are not JSON, or are empty, decode
// to a request without a manifest.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (*triggerRequest, error) {
	var req triggerRequest
	if r.Body == nil || !isJSON(r.Header.Get("Content-Type")) {
		return &req, nil
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return &req, nil
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// isFalsy reports whether a manifest counts as missing: absent, null, false,
// numeric zero or the empty string. Empty objects and arrays are present.
func isFalsy(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 {
		return true
	}
	switch string(v) {
	case "null", "false", `""`:
		return true
	}
	if v[0] == '-' || (v[0] >= '0' && v[0] <= '9') {
		var n float64
		if err := json.Unmarshal(v, &n); err == nil && n == 0 {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v Result) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func strPtr(s string) *string {
	return &s
}
