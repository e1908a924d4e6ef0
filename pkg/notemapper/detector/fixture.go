package detector

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jaypaulb/CanvusNoteMapper/pkg/notemapper"
)

// Fixture is a NoteDetector that returns canned notes. It is used for demos
// and offline development.
type Fixture struct {
	Notes []notemapper.DetectedNote
	Delay time.Duration
	Err   error
}

var _ notemapper.NoteDetector = (*Fixture)(nil)

// NewFixture returns a detector that always finds five notes in a ring.
func NewFixture() *Fixture {
	note := func(text, color string, x, y float64) notemapper.DetectedNote {
		return notemapper.DetectedNote{
			Text:            text,
			BackgroundColor: color,
			Location:        notemapper.Point{X: x, Y: y},
			Size:            notemapper.Size{Width: 60, Height: 40},
			Scale:           1,
			State:           DefaultState,
		}
	}
	return &Fixture{Notes: []notemapper.DetectedNote{
		note("Red Note", "#ff0000", 100, 30),
		note("Green Note", "#00ff00", 170, 110),
		note("Blue Note", "#0000ff", 140, 200),
		note("Yellow Note", "#ffff00", 60, 200),
		note("Purple Note", "#800080", 30, 110),
	}}
}

// LoadFixture reads notes from a JSON file in the detector reply format.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	notes, err := ParseNotes(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing fixture %s: %w", path, err)
	}
	return &Fixture{Notes: notes}, nil
}

func (f *Fixture) Detect(ctx context.Context, img notemapper.Image, hints notemapper.Hints) ([]notemapper.DetectedNote, error) {
	if f.Delay > 0 {
		t := time.NewTimer(f.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]notemapper.DetectedNote, len(f.Notes))
	copy(out, f.Notes)
	return out, nil
}
