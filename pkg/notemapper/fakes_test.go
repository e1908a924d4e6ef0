package notemapper

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/jaypaulb/CanvusNoteMapper/pkg/logger"
)

func quietLogger() Logger {
	cfg := logger.DefaultConfig()
	cfg.Output = io.Discard
	return logger.New(cfg)
}

// testPNG returns a small solid PNG.
func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{255, 240, 120, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

type fakeDetector struct {
	mu      sync.Mutex
	notes   []DetectedNote
	err     error
	calls   int
	hints   []Hints
	images  []Image
	started chan struct{}
	release chan struct{}
}

func (d *fakeDetector) Detect(ctx context.Context, img Image, hints Hints) ([]DetectedNote, error) {
	d.mu.Lock()
	d.calls++
	d.hints = append(d.hints, hints)
	d.images = append(d.images, img)
	started, release := d.started, d.release
	notes, err := d.notes, d.err
	d.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	out := make([]DetectedNote, len(notes))
	copy(out, notes)
	return out, nil
}

func (d *fakeDetector) set(notes []DetectedNote, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notes, d.err = notes, err
}

func (d *fakeDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeCanvas struct {
	mu          sync.Mutex
	canvases    []Canvas
	anchors     map[string]Anchor
	listErr     error
	getErr      error
	createErr   error
	partial     int
	getCalls    int
	createCalls int
	created     [][]PlacedNote
	started     chan struct{}
	release     chan struct{}
}

func newFakeCanvas(anchors ...Anchor) *fakeCanvas {
	c := &fakeCanvas{anchors: make(map[string]Anchor)}
	for _, a := range anchors {
		c.anchors["c1/"+a.ID] = a
	}
	c.canvases = []Canvas{{ID: "c1", Name: "Board"}}
	return c
}

func (c *fakeCanvas) ListCanvases(ctx context.Context) ([]Canvas, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.canvases, nil
}

func (c *fakeCanvas) ListAnchors(ctx context.Context, canvasID string) ([]Anchor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	var out []Anchor
	for key, a := range c.anchors {
		if strings.HasPrefix(key, canvasID+"/") {
			out = append(out, a)
		}
	}
	return out, nil
}

func (c *fakeCanvas) GetAnchor(ctx context.Context, canvasID, anchorID string) (Anchor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getCalls++
	if c.getErr != nil {
		return Anchor{}, c.getErr
	}
	a, ok := c.anchors[canvasID+"/"+anchorID]
	if !ok {
		return Anchor{}, Errorf(ErrNotFound, "fake", "anchor %s", anchorID)
	}
	return a, nil
}

func (c *fakeCanvas) CreateNotes(ctx context.Context, canvasID, anchorID string, notes []PlacedNote) (PlaceResult, error) {
	c.mu.Lock()
	c.createCalls++
	sent := make([]PlacedNote, len(notes))
	copy(sent, notes)
	c.created = append(c.created, sent)
	started, release := c.started, c.release
	err, partial := c.createErr, c.partial
	c.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return PlaceResult{}, ctx.Err()
		}
	}
	if err != nil {
		return PlaceResult{CreatedCount: partial}, err
	}
	return PlaceResult{CreatedCount: len(notes)}, nil
}

func (c *fakeCanvas) setAnchor(a Anchor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anchors["c1/"+a.ID] = a
}

func (c *fakeCanvas) counts() (gets, creates int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getCalls, c.createCalls
}

func (c *fakeCanvas) lastCreated() []PlacedNote {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.created) == 0 {
		return nil
	}
	return c.created[len(c.created)-1]
}

type fakeRecorder struct {
	mu         sync.Mutex
	batches    []BatchRecord
	placements []PlacementRecord
	err        error
}

func (r *fakeRecorder) RecordDetection(b BatchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	return r.err
}

func (r *fakeRecorder) RecordPlacement(p PlacementRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.placements = append(r.placements, p)
	return r.err
}
