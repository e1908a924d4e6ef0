package notemapper

import (
	"context"
	"errors"
	"testing"
	"time"
)

var zoneAnchor = Anchor{ID: "a1", Name: "Zone", X: 100, Y: 200, Width: 640, Height: 480, Scale: 2}

func threeNotes() []DetectedNote {
	return []DetectedNote{
		{Text: "zero", Location: Point{X: 0, Y: 0}, Size: Size{Width: 10, Height: 10}, Scale: 1, State: "normal"},
		{Text: "one", Location: Point{X: 10, Y: 10}, Size: Size{Width: 10, Height: 10}, Scale: 1, State: "normal"},
		{Text: "two", Location: Point{X: 20, Y: 20}, Size: Size{Width: 10, Height: 10}, Scale: 1.5, State: "normal"},
	}
}

// setupPipeline builds a pipeline with an image already acquired.
func setupPipeline(t *testing.T, det *fakeDetector, canvas *fakeCanvas, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	p := NewPipeline(det, canvas, opts...)
	if err := p.AcquireImage(testPNG(t, 64, 48)); err != nil {
		t.Fatalf("AcquireImage failed: %v", err)
	}
	return p
}

func detect(t *testing.T, p *Pipeline) []PlacedNote {
	t.Helper()
	notes, err := p.RunDetection(context.Background(), "c1", "a1")
	if err != nil {
		t.Fatalf("RunDetection failed: %v", err)
	}
	return notes
}

func TestEndToEndMapping(t *testing.T) {
	det := &fakeDetector{notes: []DetectedNote{
		{Text: "hello", Location: Point{X: 50, Y: 25}, Size: Size{Width: 200, Height: 150}, Scale: 1, State: "normal"},
	}}
	p := setupPipeline(t, det, newFakeCanvas(zoneAnchor))

	notes := detect(t, p)
	if len(notes) != 1 {
		t.Fatalf("expected 1 note, got %d", len(notes))
	}
	if notes[0].Location != (Point{X: 200, Y: 250}) {
		t.Errorf("location: got %+v, want {200 250}", notes[0].Location)
	}
	if notes[0].Size != (Size{Width: 400, Height: 300}) {
		t.Errorf("size: got %+v, want {400 300}", notes[0].Size)
	}

	if st, ok := p.State().(Detected); !ok || st.Count != 1 {
		t.Errorf("state: got %#v, want Detected{Count: 1}", p.State())
	}

	h := det.hints[0]
	if h.ZoneWidth != 640 || h.ZoneHeight != 480 || h.ZoneX != 100 || h.ZoneY != 200 || h.ZoneScale != 2 {
		t.Errorf("hints not taken from anchor: %+v", h)
	}
	if h.ImageWidth != 64 || h.ImageHeight != 48 {
		t.Errorf("hints image size: %dx%d", h.ImageWidth, h.ImageHeight)
	}
	if det.images[0].MIMEType != "image/png" {
		t.Errorf("detector image mime: %s", det.images[0].MIMEType)
	}
}

func TestPlaceSubmitsSelectedInOrder(t *testing.T) {
	canvas := newFakeCanvas(zoneAnchor)
	p := setupPipeline(t, &fakeDetector{notes: threeNotes()}, canvas)
	mapped := detect(t, p)

	if got := p.Selected(); len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Fatalf("default selection: got %v, want [0 1 2]", got)
	}
	if err := p.Deselect(1); err != nil {
		t.Fatalf("Deselect failed: %v", err)
	}

	result, err := p.Place(context.Background(), "c1", "a1")
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	if result.CreatedCount != 2 {
		t.Errorf("CreatedCount: got %d, want 2", result.CreatedCount)
	}

	sent := canvas.lastCreated()
	if len(sent) != 2 || sent[0] != mapped[0] || sent[1] != mapped[2] {
		t.Errorf("submitted %+v, want notes 0 and 2", sent)
	}
	if sent[1].Scale != 1.5 {
		t.Errorf("note scale should pass through, got %g", sent[1].Scale)
	}

	if st, ok := p.State().(Placed); !ok || st.Created != 2 {
		t.Errorf("state: got %#v, want Placed{Created: 2}", p.State())
	}
}

func TestPlaceEmptySelectionMakesNoCalls(t *testing.T) {
	canvas := newFakeCanvas(zoneAnchor)
	p := setupPipeline(t, &fakeDetector{notes: threeNotes()}, canvas)
	detect(t, p)
	p.ClearSelection()

	getsBefore, _ := canvas.counts()
	_, err := p.Place(context.Background(), "c1", "a1")
	if !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("expected EmptySelection, got %v", err)
	}

	gets, creates := canvas.counts()
	if gets != getsBefore || creates != 0 {
		t.Errorf("network touched: %d anchor fetches, %d creates", gets-getsBefore, creates)
	}
	if _, ok := p.State().(Detected); !ok {
		t.Errorf("local validation should not change state, got %#v", p.State())
	}
}

func TestMissingTarget(t *testing.T) {
	canvas := newFakeCanvas(zoneAnchor)
	det := &fakeDetector{notes: threeNotes()}
	p := setupPipeline(t, det, canvas)

	if _, err := p.RunDetection(context.Background(), "", "a1"); !errors.Is(err, ErrMissingTarget) {
		t.Errorf("detect without canvas: got %v", err)
	}
	detect(t, p)
	if _, err := p.Place(context.Background(), "c1", ""); !errors.Is(err, ErrMissingTarget) {
		t.Errorf("place without anchor: got %v", err)
	}
	if _, creates := canvas.counts(); creates != 0 {
		t.Errorf("CreateNotes called %d times", creates)
	}
	if det.callCount() != 1 {
		t.Errorf("detector called %d times, want 1", det.callCount())
	}
}

func TestPlaceRejectsDifferentTarget(t *testing.T) {
	other := Anchor{ID: "a2", Name: "Other", Width: 10, Height: 10}
	canvas := newFakeCanvas(zoneAnchor, other)
	p := setupPipeline(t, &fakeDetector{notes: threeNotes()}, canvas)
	detect(t, p)

	_, err := p.Place(context.Background(), "c1", "a2")
	if !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected InvalidTarget, got %v", err)
	}
	if _, creates := canvas.counts(); creates != 0 {
		t.Errorf("CreateNotes called %d times", creates)
	}
}

func TestStagesOutOfOrder(t *testing.T) {
	p := NewPipeline(&fakeDetector{}, newFakeCanvas(zoneAnchor), WithLogger(quietLogger()))

	if _, err := p.RunDetection(context.Background(), "c1", "a1"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("detect before image: got %v", err)
	}
	if _, err := p.Place(context.Background(), "c1", "a1"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("place before detection: got %v", err)
	}
	if _, ok := p.State().(Idle); !ok {
		t.Errorf("state: got %#v, want Idle", p.State())
	}
}

func TestPlaceTwiceIsInvalidState(t *testing.T) {
	p := setupPipeline(t, &fakeDetector{notes: threeNotes()}, newFakeCanvas(zoneAnchor))
	detect(t, p)

	if _, err := p.Place(context.Background(), "c1", "a1"); err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	if _, err := p.Place(context.Background(), "c1", "a1"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second place: got %v, want InvalidState", err)
	}
}

func TestSecondDetectionIsBusy(t *testing.T) {
	det := &fakeDetector{
		notes:   threeNotes(),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	p := setupPipeline(t, det, newFakeCanvas(zoneAnchor))

	type outcome struct {
		notes []PlacedNote
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		notes, err := p.RunDetection(context.Background(), "c1", "a1")
		done <- outcome{notes, err}
	}()
	<-det.started

	if _, ok := p.State().(Detecting); !ok {
		t.Errorf("state while in flight: got %#v, want Detecting", p.State())
	}
	if _, err := p.RunDetection(context.Background(), "c1", "a1"); !errors.Is(err, ErrBusy) {
		t.Errorf("second detection: got %v, want Busy", err)
	}
	if _, err := p.Place(context.Background(), "c1", "a1"); !errors.Is(err, ErrBusy) {
		t.Errorf("place during detection: got %v, want Busy", err)
	}

	close(det.release)
	first := <-done
	if first.err != nil {
		t.Fatalf("first detection failed: %v", first.err)
	}
	if len(first.notes) != 3 {
		t.Errorf("first detection returned %d notes", len(first.notes))
	}
	if st, ok := p.State().(Detected); !ok || st.Count != 3 {
		t.Errorf("state: got %#v, want Detected{Count: 3}", p.State())
	}
	if det.callCount() != 1 {
		t.Errorf("detector called %d times, want 1", det.callCount())
	}
}

func TestLateDetectionIsDiscarded(t *testing.T) {
	det := &fakeDetector{
		notes:   threeNotes(),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	p := setupPipeline(t, det, newFakeCanvas(zoneAnchor))

	done := make(chan error, 1)
	go func() {
		_, err := p.RunDetection(context.Background(), "c1", "a1")
		done <- err
	}()
	<-det.started

	if err := p.AcquireImage(testPNG(t, 32, 32)); err != nil {
		t.Fatalf("AcquireImage failed: %v", err)
	}
	close(det.release)

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("late detection: got %v, want Superseded", err)
	}
	if _, ok := p.State().(ImageAcquired); !ok {
		t.Errorf("state: got %#v, want ImageAcquired", p.State())
	}
	if p.Notes() != nil {
		t.Errorf("late notes leaked into the session: %+v", p.Notes())
	}

	// the new image can be detected normally
	det.mu.Lock()
	det.started, det.release = nil, nil
	det.mu.Unlock()
	notes := detect(t, p)
	if len(notes) != 3 {
		t.Errorf("expected 3 notes, got %d", len(notes))
	}
	if img := det.images[len(det.images)-1]; img.Width != 32 {
		t.Errorf("detector saw the old image (width %d)", img.Width)
	}
}

func TestDetectionFailureAndRetry(t *testing.T) {
	det := &fakeDetector{err: errors.New("model overloaded")}
	p := setupPipeline(t, det, newFakeCanvas(zoneAnchor))

	_, err := p.RunDetection(context.Background(), "c1", "a1")
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageDetecting {
		t.Fatalf("expected StageError at detecting, got %v", err)
	}
	if !errors.Is(err, ErrDetectionFailed) {
		t.Errorf("expected DetectionFailed kind, got %v", err)
	}

	failed, ok := p.State().(Failed)
	if !ok || failed.At != StageDetecting {
		t.Fatalf("state: got %#v, want Failed at detecting", p.State())
	}
	if !errors.Is(failed.Reason, ErrDetectionFailed) {
		t.Errorf("reason: %v", failed.Reason)
	}

	// Failed never moves on its own
	time.Sleep(5 * time.Millisecond)
	if _, ok := p.State().(Failed); !ok {
		t.Errorf("Failed state changed without a caller action: %#v", p.State())
	}

	det.set(threeNotes(), nil)
	notes := detect(t, p)
	if len(notes) != 3 {
		t.Errorf("retry returned %d notes", len(notes))
	}
	if len(det.images) != 2 || len(det.images[1].Data) != len(det.images[0].Data) {
		t.Errorf("retry should reuse the retained image")
	}
}

func TestDetectionTimeoutIsUpstreamUnavailable(t *testing.T) {
	det := &fakeDetector{notes: threeNotes(), release: make(chan struct{})}
	p := setupPipeline(t, det, newFakeCanvas(zoneAnchor))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.RunDetection(ctx, "c1", "a1")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected UpstreamUnavailable, got %v", err)
	}
	if f, ok := p.State().(Failed); !ok || f.At != StageDetecting {
		t.Errorf("state: got %#v", p.State())
	}
}

func TestInvalidAnchorFailsBeforeDetector(t *testing.T) {
	flat := Anchor{ID: "a1", Name: "Flat", X: 0, Y: 0, Width: 0, Height: 100}
	det := &fakeDetector{notes: threeNotes()}
	p := setupPipeline(t, det, newFakeCanvas(flat))

	_, err := p.RunDetection(context.Background(), "c1", "a1")
	if !errors.Is(err, ErrInvalidAnchor) {
		t.Fatalf("expected InvalidAnchor, got %v", err)
	}
	if det.callCount() != 0 {
		t.Errorf("detector called %d times", det.callCount())
	}
	if f, ok := p.State().(Failed); !ok || f.At != StageDetecting {
		t.Errorf("state: got %#v", p.State())
	}
}

func TestUnknownAnchorIsNotFound(t *testing.T) {
	p := setupPipeline(t, &fakeDetector{}, newFakeCanvas(zoneAnchor))

	_, err := p.RunDetection(context.Background(), "c1", "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestPlacementFailureAndRetry(t *testing.T) {
	canvas := newFakeCanvas(zoneAnchor)
	canvas.createErr = Errorf(ErrUpstreamUnavailable, "fake", "server down")
	p := setupPipeline(t, &fakeDetector{notes: threeNotes()}, canvas)
	detect(t, p)

	_, err := p.Place(context.Background(), "c1", "a1")
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StagePlacing || !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected UpstreamUnavailable at placing, got %v", err)
	}
	if f, ok := p.State().(Failed); !ok || f.At != StagePlacing {
		t.Fatalf("state: got %#v", p.State())
	}
	if got := p.Status(); got.FailedStage != "placing" || got.FailureKind != "upstream unavailable" {
		t.Errorf("status: %+v", got)
	}

	canvas.mu.Lock()
	canvas.createErr = nil
	canvas.mu.Unlock()

	result, err := p.Place(context.Background(), "c1", "a1")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if result.CreatedCount != 3 {
		t.Errorf("CreatedCount: got %d", result.CreatedCount)
	}
}

func TestPartialFailureSurfacesVerbatim(t *testing.T) {
	canvas := newFakeCanvas(zoneAnchor)
	canvas.createErr = Wrap(ErrPartialFailure, "fake", errors.New("note 2 rejected"))
	canvas.partial = 1
	p := setupPipeline(t, &fakeDetector{notes: threeNotes()}, canvas)
	detect(t, p)

	result, err := p.Place(context.Background(), "c1", "a1")
	if !errors.Is(err, ErrPartialFailure) {
		t.Fatalf("expected PartialFailure, got %v", err)
	}
	if result.CreatedCount != 1 {
		t.Errorf("CreatedCount: got %d, want 1", result.CreatedCount)
	}
}

func TestCoordinatesFrozenAtDetection(t *testing.T) {
	canvas := newFakeCanvas(zoneAnchor)
	p := setupPipeline(t, &fakeDetector{notes: threeNotes()}, canvas)
	mapped := detect(t, p)

	moved := zoneAnchor
	moved.X, moved.Y, moved.Scale = 5000, 5000, 10
	canvas.setAnchor(moved)

	if _, err := p.Place(context.Background(), "c1", "a1"); err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	sent := canvas.lastCreated()
	for i := range sent {
		if sent[i] != mapped[i] {
			t.Errorf("note %d remapped: got %+v, want %+v", i, sent[i], mapped[i])
		}
	}
}

func TestPlacementRequiresAnchorToExist(t *testing.T) {
	canvas := newFakeCanvas(zoneAnchor)
	p := setupPipeline(t, &fakeDetector{notes: threeNotes()}, canvas)
	detect(t, p)

	canvas.mu.Lock()
	delete(canvas.anchors, "c1/a1")
	canvas.mu.Unlock()

	_, err := p.Place(context.Background(), "c1", "a1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, creates := canvas.counts(); creates != 0 {
		t.Errorf("CreateNotes called %d times", creates)
	}
}

func TestNewDetectionResetsSelection(t *testing.T) {
	det := &fakeDetector{notes: threeNotes()}
	p := setupPipeline(t, det, newFakeCanvas(zoneAnchor))
	detect(t, p)
	p.Deselect(0)
	p.Deselect(2)

	det.set(threeNotes()[:2], nil)
	detect(t, p)

	if got := p.Selected(); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("selection after new batch: got %v, want [0 1]", got)
	}
	if err := p.Select(2); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("index from the old batch: got %v, want IndexOutOfRange", err)
	}
}

func TestEmptyDetection(t *testing.T) {
	canvas := newFakeCanvas(zoneAnchor)
	p := setupPipeline(t, &fakeDetector{notes: []DetectedNote{}}, canvas)

	notes := detect(t, p)
	if len(notes) != 0 {
		t.Errorf("expected no notes, got %d", len(notes))
	}
	if st, ok := p.State().(Detected); !ok || st.Count != 0 {
		t.Errorf("state: got %#v", p.State())
	}
	if _, err := p.Place(context.Background(), "c1", "a1"); !errors.Is(err, ErrEmptySelection) {
		t.Errorf("place: got %v, want EmptySelection", err)
	}
}

func TestLatePlacementLeavesNewState(t *testing.T) {
	canvas := newFakeCanvas(zoneAnchor)
	p := setupPipeline(t, &fakeDetector{notes: threeNotes()}, canvas)
	detect(t, p)

	canvas.mu.Lock()
	canvas.started = make(chan struct{}, 1)
	canvas.release = make(chan struct{})
	canvas.mu.Unlock()

	type outcome struct {
		result PlaceResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := p.Place(context.Background(), "c1", "a1")
		done <- outcome{r, err}
	}()
	<-canvas.started

	if _, err := p.Place(context.Background(), "c1", "a1"); !errors.Is(err, ErrBusy) {
		t.Errorf("second placement: got %v, want Busy", err)
	}
	if err := p.AcquireImage(testPNG(t, 16, 16)); err != nil {
		t.Fatalf("AcquireImage failed: %v", err)
	}
	close(canvas.release)

	got := <-done
	if got.err != nil || got.result.CreatedCount != 3 {
		t.Errorf("late placement: %+v, %v", got.result, got.err)
	}
	if _, ok := p.State().(ImageAcquired); !ok {
		t.Errorf("state: got %#v, want ImageAcquired", p.State())
	}
}

func TestAcquireImageRejectsGarbage(t *testing.T) {
	p := NewPipeline(&fakeDetector{}, newFakeCanvas(), WithLogger(quietLogger()))

	for _, data := range [][]byte{nil, []byte("hello")} {
		if err := p.AcquireImage(data); !errors.Is(err, ErrInvalidImage) {
			t.Errorf("AcquireImage(%q): got %v, want InvalidImage", data, err)
		}
	}
	if _, ok := p.State().(Idle); !ok {
		t.Errorf("state: got %#v, want Idle", p.State())
	}
}

func TestStatusAndReset(t *testing.T) {
	p := setupPipeline(t, &fakeDetector{notes: threeNotes()}, newFakeCanvas(zoneAnchor))
	detect(t, p)
	p.Deselect(1)

	st := p.Status()
	if st.Stage != "detected" || st.NoteCount != 3 || st.CanvasID != "c1" || st.AnchorID != "a1" {
		t.Errorf("status: %+v", st)
	}
	if len(st.Selected) != 2 || st.BatchID == "" || st.ImageBytes == 0 {
		t.Errorf("status details: %+v", st)
	}
	if st.Message != "Detected 3 notes." {
		t.Errorf("message: %q", st.Message)
	}

	before := st.Token
	if err := p.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	st = p.Status()
	if st.Stage != "idle" || st.NoteCount != 0 || len(st.Selected) != 0 || st.Token <= before {
		t.Errorf("status after reset: %+v", st)
	}
}

func TestRecorderReceivesHistory(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("disk full")}
	p := setupPipeline(t, &fakeDetector{notes: threeNotes()}, newFakeCanvas(zoneAnchor),
		WithRecorder(rec), WithSessionID("s-1"))
	detect(t, p)
	p.Deselect(0)

	if _, err := p.Place(context.Background(), "c1", "a1"); err != nil {
		t.Fatalf("recorder errors must not fail placement: %v", err)
	}

	if len(rec.batches) != 1 {
		t.Fatalf("expected 1 batch record, got %d", len(rec.batches))
	}
	b := rec.batches[0]
	if b.SessionID != "s-1" || b.Anchor.ID != "a1" || len(b.Notes) != 3 || len(b.Detected) != 3 {
		t.Errorf("batch record: %+v", b)
	}
	if b.Detected[1].Location != (Point{X: 10, Y: 10}) || b.Notes[1].Location != (Point{X: 120, Y: 220}) {
		t.Errorf("batch record coordinates: %+v / %+v", b.Detected[1].Location, b.Notes[1].Location)
	}

	if len(rec.placements) != 1 {
		t.Fatalf("expected 1 placement record, got %d", len(rec.placements))
	}
	pl := rec.placements[0]
	if pl.BatchID != b.ID || pl.CreatedCount != 2 || len(pl.Indices) != 2 || pl.Indices[0] != 1 {
		t.Errorf("placement record: %+v", pl)
	}
}
