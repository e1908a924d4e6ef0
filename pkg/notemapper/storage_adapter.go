package notemapper

import (
	"errors"

	"github.com/jaypaulb/CanvusNoteMapper/pkg/notemapper/storage"
)

// storageAdapter adapts storage.DBClient to the History interface.
type storageAdapter struct {
	db *storage.DBClient
}

// NewSQLiteHistory opens (or creates) a history database at dbPath. An empty
// path falls back to NOTEMAPPER_DB_PATH, then the default file.
func NewSQLiteHistory(dbPath string) (History, error) {
	var (
		db  *storage.DBClient
		err error
	)
	if dbPath == "" {
		db, err = storage.NewDBClient()
	} else {
		db, err = storage.NewDBClientWithPath(dbPath)
	}
	if err != nil {
		return nil, err
	}
	return &storageAdapter{db: db}, nil
}

func (s *storageAdapter) RecordDetection(b BatchRecord) error {
	row := &storage.DetectionBatch{
		ID:           b.ID,
		SessionID:    b.SessionID,
		CanvasID:     b.CanvasID,
		AnchorID:     b.Anchor.ID,
		AnchorName:   b.Anchor.Name,
		AnchorX:      b.Anchor.X,
		AnchorY:      b.Anchor.Y,
		AnchorWidth:  b.Anchor.Width,
		AnchorHeight: b.Anchor.Height,
		AnchorScale:  b.Anchor.EffectiveScale(),
		ImageBytes:   b.ImageBytes,
		CreatedAt:    b.CreatedAt,
	}

	row.Notes = make([]storage.NoteRecord, len(b.Notes))
	for i, placed := range b.Notes {
		n := storage.NoteRecord{
			Position:        i,
			Text:            placed.Text,
			BackgroundColor: placed.BackgroundColor,
			State:           placed.State,
			Scale:           placed.Scale,
			CanvasX:         placed.Location.X,
			CanvasY:         placed.Location.Y,
			CanvasWidth:     placed.Size.Width,
			CanvasHeight:    placed.Size.Height,
		}
		if i < len(b.Detected) {
			d := b.Detected[i]
			n.ImageX, n.ImageY = d.Location.X, d.Location.Y
			n.ImageWidth, n.ImageHeight = d.Size.Width, d.Size.Height
		}
		row.Notes[i] = n
	}

	return s.db.SaveBatch(row)
}

func (s *storageAdapter) RecordPlacement(p PlacementRecord) error {
	return s.db.SavePlacement(&storage.Placement{
		BatchID:      p.BatchID,
		SessionID:    p.SessionID,
		CanvasID:     p.CanvasID,
		AnchorID:     p.AnchorID,
		Indices:      p.Indices,
		CreatedCount: p.CreatedCount,
		Error:        p.Error,
		CreatedAt:    p.CreatedAt,
	})
}

func (s *storageAdapter) ListBatches(limit int) ([]BatchSummary, error) {
	rows, err := s.db.ListBatches(limit)
	if err != nil {
		return nil, err
	}

	out := make([]BatchSummary, len(rows))
	for i, r := range rows {
		out[i] = summaryOf(r.DetectionBatch, r.Placements)
	}
	return out, nil
}

func (s *storageAdapter) GetBatch(id string) (*BatchDetail, error) {
	b, placements, err := s.db.GetBatch(id)
	if errors.Is(err, storage.ErrBatchNotFound) {
		return nil, Wrap(ErrNotFound, "history", err)
	}
	if err != nil {
		return nil, err
	}

	detail := &BatchDetail{
		BatchSummary: summaryOf(*b, len(placements)),
		Anchor: Anchor{
			ID:     b.AnchorID,
			Name:   b.AnchorName,
			X:      b.AnchorX,
			Y:      b.AnchorY,
			Width:  b.AnchorWidth,
			Height: b.AnchorHeight,
			Scale:  b.AnchorScale,
		},
		ImageBytes: b.ImageBytes,
		Notes:      make([]RecordedNote, len(b.Notes)),
		History:    make([]PlacementRecord, len(placements)),
	}

	for i, n := range b.Notes {
		detail.Notes[i] = RecordedNote{
			Index: n.Position,
			Detected: DetectedNote{
				Text:            n.Text,
				BackgroundColor: n.BackgroundColor,
				Location:        Point{X: n.ImageX, Y: n.ImageY},
				Size:            Size{Width: n.ImageWidth, Height: n.ImageHeight},
				Scale:           n.Scale,
				State:           n.State,
			},
			Placed: PlacedNote{
				Text:            n.Text,
				BackgroundColor: n.BackgroundColor,
				Location:        Point{X: n.CanvasX, Y: n.CanvasY},
				Size:            Size{Width: n.CanvasWidth, Height: n.CanvasHeight},
				Scale:           n.Scale,
				State:           n.State,
			},
		}
	}

	for i, p := range placements {
		detail.History[i] = PlacementRecord{
			BatchID:      p.BatchID,
			SessionID:    p.SessionID,
			CanvasID:     p.CanvasID,
			AnchorID:     p.AnchorID,
			Indices:      p.Indices,
			CreatedCount: p.CreatedCount,
			Error:        p.Error,
			CreatedAt:    p.CreatedAt,
		}
	}
	return detail, nil
}

func (s *storageAdapter) DeleteBatch(id string) error {
	err := s.db.DeleteBatch(id)
	if errors.Is(err, storage.ErrBatchNotFound) {
		return Wrap(ErrNotFound, "history", err)
	}
	return err
}

func (s *storageAdapter) Close() error {
	return s.db.Close()
}

func summaryOf(b storage.DetectionBatch, placements int) BatchSummary {
	return BatchSummary{
		ID:         b.ID,
		SessionID:  b.SessionID,
		CanvasID:   b.CanvasID,
		AnchorID:   b.AnchorID,
		AnchorName: b.AnchorName,
		NoteCount:  b.NoteCount,
		Placements: placements,
		CreatedAt:  b.CreatedAt,
	}
}
