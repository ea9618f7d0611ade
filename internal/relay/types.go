package relay

import (
	"context"
	"encoding/json"

	"github.com/tjfontaine/workflow-relay/internal/github"
)

// Dispatcher starts a workflow run upstream.
type Dispatcher interface {
	DispatchWorkflow(ctx context.Context, wf github.Workflow, manifest json.RawMessage) (*github.DispatchResult, error)
}

// Result is the JSON body of every /trigger-workflow response.
type Result struct {
	Success bool    `json:"success"`
	Message string  `json:"message,omitempty"`
	Error   string  `json:"error,omitempty"`
	Details *string `json:"details,omitempty"`
}

type triggerRequest struct {
	Manifest json.RawMessage `json:"manifest"`
}

const (
	msgTriggered       = "Workflow triggered"
	errManifestMissing = "manifest missing"
	errInvalidBody     = "invalid request body"
	errTooLarge        = "request entity too large"
	errServer          = "Server error"
)
