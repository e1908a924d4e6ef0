package main

import (
	"fmt"
	"net/url"

	"github.com/jaypaulb/CanvusNoteMapper/pkg/notemapper"
)

const (
	// MaxUploadSize caps a photo upload, multipart overhead included.
	MaxUploadSize = 32 << 20

	// DefaultHistoryLimit is used when GET /api/history has no limit.
	DefaultHistoryLimit = 50
)

// TargetRequest is the body of POST /api/sessions/{id}/detect and /place.
type TargetRequest struct {
	CanvasID string `json:"canvas_id"`
	AnchorID string `json:"anchor_id"`
}

// Selection actions.
const (
	SelectOne   = "select"
	DeselectOne = "deselect"
	SelectAll   = "all"
	SelectNone  = "none"
)

// SelectionRequest is the body of POST /api/sessions/{id}/selection.
type SelectionRequest struct {
	Action string `json:"action"`
	Index  *int   `json:"index,omitempty"`
}

// Validate checks if the request is valid
func (r *SelectionRequest) Validate() error {
	switch r.Action {
	case SelectOne, DeselectOne:
		if r.Index == nil {
			return fmt.Errorf("index is required for %q", r.Action)
		}
	case SelectAll, SelectNone:
	default:
		return fmt.Errorf("unknown action %q (want select, deselect, all or none)", r.Action)
	}
	return nil
}

// CredentialsRequest is the body of POST /api/credentials.
type CredentialsRequest struct {
	Server string `json:"server"`
	APIKey string `json:"api_key"`
}

// Validate checks if the request is valid
func (r *CredentialsRequest) Validate() error {
	if r.Server == "" || r.APIKey == "" {
		return fmt.Errorf("server and api_key are required")
	}
	u, err := url.Parse(r.Server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server must be an http(s) URL")
	}
	return nil
}

// SessionResponse describes a session and its current batch.
type SessionResponse struct {
	ID     string                  `json:"id"`
	Status notemapper.Status       `json:"status"`
	Notes  []notemapper.PlacedNote `json:"notes"`
}

// DetectResponse is the response for POST /api/sessions/{id}/detect
type DetectResponse struct {
	Notes  []notemapper.PlacedNote `json:"notes"`
	Count  int                     `json:"count"`
	Status notemapper.Status       `json:"status"`
}

// PlaceResponse is the response for POST /api/sessions/{id}/place
type PlaceResponse struct {
	CreatedCount int               `json:"created_count"`
	Status       notemapper.Status `json:"status"`
}

type ListCanvasesResponse struct {
	Canvases []notemapper.Canvas `json:"canvases"`
	Count    int                 `json:"count"`
}

type ListAnchorsResponse struct {
	CanvasID string              `json:"canvas_id"`
	Anchors  []notemapper.Anchor `json:"anchors"`
	Count    int                 `json:"count"`
}

// HistoryResponse is the response for GET /api/history
type HistoryResponse struct {
	Batches []notemapper.BatchSummary `json:"batches"`
	Count   int                       `json:"count"`
}

// DeleteResponse is returned by the DELETE endpoints.
type DeleteResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error        string `json:"error"`
	Message      string `json:"message,omitempty"`
	Kind         string `json:"kind,omitempty"`
	Code         int    `json:"code,omitempty"`
	CreatedCount *int   `json:"created_count,omitempty"`
}
