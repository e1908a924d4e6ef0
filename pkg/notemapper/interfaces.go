package notemapper

import "context"

// NoteDetector finds sticky notes in a photo. It returns an empty slice, not
// an error, when the image holds no notes.
type NoteDetector interface {
	Detect(ctx context.Context, img Image, hints Hints) ([]DetectedNote, error)
}

// CanvasService is the remote canvas the notes end up on.
type CanvasService interface {
	ListCanvases(ctx context.Context) ([]Canvas, error)
	ListAnchors(ctx context.Context, canvasID string) ([]Anchor, error)
	GetAnchor(ctx context.Context, canvasID, anchorID string) (Anchor, error)
	CreateNotes(ctx context.Context, canvasID, anchorID string, notes []PlacedNote) (PlaceResult, error)
}

// Recorder keeps a history of detection batches and placements.
type Recorder interface {
	RecordDetection(batch BatchRecord) error
	RecordPlacement(placement PlacementRecord) error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
