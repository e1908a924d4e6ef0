package notemapper

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jaypaulb/CanvusNoteMapper/pkg/logger"
	"github.com/jaypaulb/CanvusNoteMapper/pkg/notemapper/imageprep"
)

// batch is the result of one detection. notes are frozen at detection time
// and never remapped.
type batch struct {
	id       string
	token    uint64
	canvasID string
	anchor   Anchor
	detected []DetectedNote
	notes    []PlacedNote
}

// Pipeline drives one session from photo to placed notes. It is safe for
// concurrent use. The mutex is never held across a collaborator call.
type Pipeline struct {
	detector NoteDetector
	canvas   CanvasService
	anchors  *AnchorRegistry
	log      Logger
	config   *Config

	mu        sync.Mutex
	state     State
	image     *Image
	token     uint64
	detecting bool
	placing   bool
	batch     *batch
	selection *Selection
	created   int
}

func NewPipeline(detector NoteDetector, canvas CanvasService, opts ...Option) *Pipeline {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger().Named("pipeline")
	}

	return &Pipeline{
		detector:  detector,
		canvas:    canvas,
		anchors:   NewAnchorRegistry(canvas),
		log:       cfg.Logger,
		config:    cfg,
		state:     Idle{},
		selection: NewSelection(),
	}
}

// Anchors exposes the registry the pipeline resolves anchors through.
func (p *Pipeline) Anchors() *AnchorRegistry { return p.anchors }

// AcquireImage prepares data for detection and makes it the session's image.
// Any batch in flight or on hand is invalidated.
func (p *Pipeline) AcquireImage(data []byte) error {
	if len(data) == 0 {
		return Errorf(ErrInvalidImage, "acquire image", "no image data")
	}

	prepared, err := imageprep.Prepare(data, p.config.Image)
	if err != nil {
		return Wrap(ErrInvalidImage, "acquire image", err)
	}

	img := &Image{
		Data:     prepared.Data,
		MIMEType: prepared.MIMEType,
		Width:    prepared.Width,
		Height:   prepared.Height,
	}

	p.mu.Lock()
	p.token++
	p.image = img
	p.batch = nil
	p.created = 0
	p.selection.Reset(0)
	p.state = ImageAcquired{Bytes: len(img.Data)}
	token := p.token
	p.mu.Unlock()

	p.log.Infof("Image acquired: %s %s, %dx%d (source %dx%d), batch token %d",
		prepared.Format, humanize.Bytes(uint64(len(data))), img.Width, img.Height,
		prepared.SourceWidth, prepared.SourceHeight, token)
	return nil
}

// RunDetection resolves the anchor, detects notes in the current image and
// maps them into the anchor's frame. Every note starts selected.
func (p *Pipeline) RunDetection(ctx context.Context, canvasID, anchorID string) ([]PlacedNote, error) {
	if canvasID == "" || anchorID == "" {
		return nil, Errorf(ErrMissingTarget, "detect", "canvas id %q, anchor id %q", canvasID, anchorID)
	}

	p.mu.Lock()
	if p.detecting || p.placing {
		p.mu.Unlock()
		return nil, Errorf(ErrBusy, "detect", "a %s call is already running", p.inFlight())
	}
	if p.image == nil || !canDetect(p.state) {
		stage := p.state.Stage()
		p.mu.Unlock()
		return nil, Errorf(ErrInvalidState, "detect", "cannot detect from stage %s", stage)
	}
	p.token++
	token := p.token
	img := *p.image
	p.detecting = true
	p.batch = nil
	p.created = 0
	p.selection.Reset(0)
	p.state = Detecting{Token: token}
	p.mu.Unlock()

	p.log.Debugf("Detection %d started against %s/%s", token, canvasID, anchorID)
	b, err := p.detect(ctx, img, canvasID, anchorID)

	p.mu.Lock()
	p.detecting = false
	if token != p.token {
		current := p.token
		p.mu.Unlock()
		p.log.Warnf("Discarding detection %d: batch %d is current", token, current)
		return nil, Errorf(ErrSuperseded, "detect", "batch %d replaced by %d", token, current)
	}
	if err != nil {
		p.state = Failed{At: StageDetecting, Reason: err}
		p.mu.Unlock()
		p.log.Warnf("Detection %d failed: %v", token, err)
		return nil, &StageError{Stage: StageDetecting, Err: err}
	}
	b.id = uuid.NewString()
	b.token = token
	p.batch = b
	p.selection.Reset(len(b.notes))
	p.state = Detected{Token: token, Count: len(b.notes)}
	p.mu.Unlock()

	p.log.Infof("Detected %d notes in batch %s", len(b.notes), b.id)
	p.recordDetection(b, len(img.Data))

	out := make([]PlacedNote, len(b.notes))
	copy(out, b.notes)
	return out, nil
}

func (p *Pipeline) detect(ctx context.Context, img Image, canvasID, anchorID string) (*batch, error) {
	anchor, err := p.anchors.GetAnchor(ctx, canvasID, anchorID)
	if err != nil {
		return nil, err
	}
	if err := ValidateAnchor(anchor); err != nil {
		return nil, err
	}

	detected, err := p.detector.Detect(ctx, img, HintsFor(anchor, img))
	if err != nil {
		return nil, classify(err, ErrDetectionFailed, "detect")
	}

	notes, err := MapNotes(detected, anchor)
	if err != nil {
		return nil, err
	}

	return &batch{
		canvasID: canvasID,
		anchor:   anchor,
		detected: detected,
		notes:    notes,
	}, nil
}

// Place submits the selected notes, in ascending index order, to the anchor
// they were detected against. The anchor is re-fetched to confirm it still
// exists; note coordinates are the ones computed at detection time.
func (p *Pipeline) Place(ctx context.Context, canvasID, anchorID string) (PlaceResult, error) {
	if canvasID == "" || anchorID == "" {
		return PlaceResult{}, Errorf(ErrMissingTarget, "place", "canvas id %q, anchor id %q", canvasID, anchorID)
	}

	p.mu.Lock()
	if p.placing || p.detecting {
		p.mu.Unlock()
		return PlaceResult{}, Errorf(ErrBusy, "place", "a %s call is already running", p.inFlight())
	}
	if p.batch == nil || !canPlace(p.state) {
		stage := p.state.Stage()
		p.mu.Unlock()
		return PlaceResult{}, Errorf(ErrInvalidState, "place", "nothing to place from stage %s", stage)
	}
	b := p.batch
	if b.canvasID != canvasID || b.anchor.ID != anchorID {
		p.mu.Unlock()
		return PlaceResult{}, Errorf(ErrInvalidTarget, "place",
			"batch was mapped against %s/%s, not %s/%s", b.canvasID, b.anchor.ID, canvasID, anchorID)
	}
	indices := p.selection.Selected()
	if len(indices) == 0 {
		p.mu.Unlock()
		return PlaceResult{}, Errorf(ErrEmptySelection, "place", "no notes selected")
	}
	notes := make([]PlacedNote, len(indices))
	for i, idx := range indices {
		notes[i] = b.notes[idx]
	}
	token := p.token
	p.placing = true
	p.state = Placing{Token: token, Count: len(notes)}
	p.mu.Unlock()

	p.log.Debugf("Placing %d of %d notes from batch %s", len(notes), len(b.notes), b.id)
	result, err := p.place(ctx, b, notes)

	p.mu.Lock()
	p.placing = false
	stale := token != p.token
	if !stale {
		if err != nil {
			p.state = Failed{At: StagePlacing, Reason: err}
		} else {
			p.created = result.CreatedCount
			p.state = Placed{Token: token, Created: result.CreatedCount}
		}
	}
	p.mu.Unlock()

	p.recordPlacement(b, indices, result, err)

	if stale {
		p.log.Warnf("Placement for batch %s finished after a new image was acquired; state left unchanged", b.id)
	}
	if err != nil {
		p.log.Warnf("Placement for batch %s failed after %d notes: %v", b.id, result.CreatedCount, err)
		return result, &StageError{Stage: StagePlacing, Err: err}
	}

	p.log.Infof("Placed %d notes on %s/%s", result.CreatedCount, canvasID, anchorID)
	return result, nil
}

func (p *Pipeline) place(ctx context.Context, b *batch, notes []PlacedNote) (PlaceResult, error) {
	fresh, err := p.anchors.GetAnchor(ctx, b.canvasID, b.anchor.ID)
	if err != nil {
		return PlaceResult{}, err
	}
	if !fresh.SameGeometry(b.anchor) {
		p.log.Warnf("Anchor %s changed since detection (%g,%g %gx%g -> %g,%g %gx%g); keeping detection-time coordinates",
			b.anchor.ID, b.anchor.X, b.anchor.Y, b.anchor.Width, b.anchor.Height,
			fresh.X, fresh.Y, fresh.Width, fresh.Height)
	}

	result, err := p.canvas.CreateNotes(ctx, b.canvasID, b.anchor.ID, notes)
	if err != nil {
		return result, classify(err, ErrUpstreamUnavailable, "create notes")
	}
	return result, nil
}

func (p *Pipeline) inFlight() string {
	if p.detecting {
		return "detection"
	}
	return "placement"
}

// Select marks note i for placement.
func (p *Pipeline) Select(i int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selection.Select(i)
}

// Deselect excludes note i from placement.
func (p *Pipeline) Deselect(i int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selection.Deselect(i)
}

func (p *Pipeline) SelectAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selection.SelectAll()
}

func (p *Pipeline) ClearSelection() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selection.Clear()
}

// Selected returns the selected indices in ascending order.
func (p *Pipeline) Selected() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selection.Selected()
}

// State returns the current pipeline state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Notes returns a copy of the current batch, nil if there is none.
func (p *Pipeline) Notes() []PlacedNote {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.batch == nil {
		return nil
	}
	out := make([]PlacedNote, len(p.batch.notes))
	copy(out, p.batch.notes)
	return out
}

// Status returns a snapshot for display.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		Stage:    p.state.Stage().String(),
		Message:  statusLine(p.state),
		Token:    p.token,
		Selected: p.selection.Selected(),
		Created:  p.created,
	}
	if p.image != nil {
		st.ImageBytes = len(p.image.Data)
	}
	if p.batch != nil {
		st.NoteCount = len(p.batch.notes)
		st.CanvasID = p.batch.canvasID
		st.AnchorID = p.batch.anchor.ID
		st.BatchID = p.batch.id
	}
	if f, ok := p.state.(Failed); ok {
		st.FailedStage = f.At.String()
		if k := KindOf(f.Reason); k != nil {
			st.FailureKind = k.Error()
		}
	}
	return st
}

// Reset drops the image and batch and returns to Idle.
func (p *Pipeline) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.detecting || p.placing {
		return Errorf(ErrBusy, "reset", "a %s call is already running", p.inFlight())
	}
	p.token++
	p.image = nil
	p.batch = nil
	p.created = 0
	p.selection.Reset(0)
	p.state = Idle{}
	return nil
}

func (p *Pipeline) recordDetection(b *batch, imageBytes int) {
	if p.config.Recorder == nil {
		return
	}
	rec := BatchRecord{
		ID:         b.id,
		SessionID:  p.config.SessionID,
		CanvasID:   b.canvasID,
		Anchor:     b.anchor,
		ImageBytes: imageBytes,
		Detected:   b.detected,
		Notes:      b.notes,
		CreatedAt:  time.Now().UTC(),
	}
	if err := p.config.Recorder.RecordDetection(rec); err != nil {
		p.log.Errorf("Failed to record batch %s: %v", b.id, err)
	}
}

func (p *Pipeline) recordPlacement(b *batch, indices []int, result PlaceResult, placeErr error) {
	if p.config.Recorder == nil {
		return
	}
	rec := PlacementRecord{
		BatchID:      b.id,
		SessionID:    p.config.SessionID,
		CanvasID:     b.canvasID,
		AnchorID:     b.anchor.ID,
		Indices:      indices,
		CreatedCount: result.CreatedCount,
		CreatedAt:    time.Now().UTC(),
	}
	if placeErr != nil {
		rec.Error = placeErr.Error()
	}
	if err := p.config.Recorder.RecordPlacement(rec); err != nil {
		p.log.Errorf("Failed to record placement for batch %s: %v", b.id, err)
	}
}
