package notemapper

import "time"

// BatchRecord is one successful detection as it is written to history.
// Detected and Notes are index-aligned.
type BatchRecord struct {
	ID         string
	SessionID  string
	CanvasID   string
	Anchor     Anchor
	ImageBytes int
	Detected   []DetectedNote
	Notes      []PlacedNote
	CreatedAt  time.Time
}

// PlacementRecord is one placement attempt, successful or not.
type PlacementRecord struct {
	BatchID      string    `json:"batch_id"`
	SessionID    string    `json:"session_id,omitempty"`
	CanvasID     string    `json:"canvas_id"`
	AnchorID     string    `json:"anchor_id"`
	Indices      []int     `json:"indices"`
	CreatedCount int       `json:"created_count"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// BatchSummary is a history listing row.
type BatchSummary struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id,omitempty"`
	CanvasID   string    `json:"canvas_id"`
	AnchorID   string    `json:"anchor_id"`
	AnchorName string    `json:"anchor_name"`
	NoteCount  int       `json:"note_count"`
	Placements int       `json:"placements"`
	CreatedAt  time.Time `json:"created_at"`
}

// RecordedNote pairs a detection with the note it was mapped to.
type RecordedNote struct {
	Index    int          `json:"index"`
	Detected DetectedNote `json:"detected"`
	Placed   PlacedNote   `json:"placed"`
}

// BatchDetail is a stored batch with its notes and placement attempts.
type BatchDetail struct {
	BatchSummary
	Anchor     Anchor            `json:"anchor"`
	ImageBytes int               `json:"image_bytes"`
	Notes      []RecordedNote    `json:"notes"`
	History    []PlacementRecord `json:"placement_history"`
}

// History is a Recorder that can also be read back.
type History interface {
	Recorder
	ListBatches(limit int) ([]BatchSummary, error)
	GetBatch(id string) (*BatchDetail, error)
	DeleteBatch(id string) error
	Close() error
}
