package notemapper

import "fmt"

// Stage names a step of the pipeline.
type Stage int

const (
	StageIdle Stage = iota
	StageImageAcquired
	StageDetecting
	StageDetected
	StagePlacing
	StagePlaced
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageImageAcquired:
		return "image_acquired"
	case StageDetecting:
		return "detecting"
	case StageDetected:
		return "detected"
	case StagePlacing:
		return "placing"
	case StagePlaced:
		return "placed"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// State is the session's pipeline state. The concrete types below are the
// only implementations.
type State interface {
	Stage() Stage
	isState()
}

type Idle struct{}

type ImageAcquired struct {
	Bytes int
}

type Detecting struct {
	Token uint64
}

type Detected struct {
	Token uint64
	Count int
}

type Placing struct {
	Token uint64
	Count int
}

type Placed struct {
	Token   uint64
	Created int
}

// Failed absorbs a collaborator failure. Stage is where it happened.
type Failed struct {
	At     Stage
	Reason error
}

func (Idle) Stage() Stage          { return StageIdle }
func (ImageAcquired) Stage() Stage { return StageImageAcquired }
func (Detecting) Stage() Stage     { return StageDetecting }
func (Detected) Stage() Stage      { return StageDetected }
func (Placing) Stage() Stage       { return StagePlacing }
func (Placed) Stage() Stage        { return StagePlaced }
func (Failed) Stage() Stage        { return StageFailed }

func (Idle) isState()          {}
func (ImageAcquired) isState() {}
func (Detecting) isState()     {}
func (Detected) isState()      {}
func (Placing) isState()       {}
func (Placed) isState()        {}
func (Failed) isState()        {}

// canDetect reports whether a detection may start from st.
func canDetect(st State) bool {
	switch s := st.(type) {
	case Idle:
		return false
	case ImageAcquired, Detected, Placed:
		return true
	case Detecting:
		return false
	case Placing:
		return false
	case Failed:
		return s.At == StageDetecting || s.At == StagePlacing
	default:
		panic(fmt.Sprintf("notemapper: unhandled state %T", st))
	}
}

// canPlace reports whether a placement may start from st.
func canPlace(st State) bool {
	switch s := st.(type) {
	case Detected:
		return true
	case Failed:
		return s.At == StagePlacing
	case Idle, ImageAcquired, Detecting, Placing, Placed:
		return false
	default:
		panic(fmt.Sprintf("notemapper: unhandled state %T", st))
	}
}

// Status is a read-only snapshot of a pipeline for callers and the HTTP API.
type Status struct {
	Stage       string `json:"stage"`
	FailedStage string `json:"failed_stage,omitempty"`
	FailureKind string `json:"failure_kind,omitempty"`
	Message     string `json:"message,omitempty"`
	Token       uint64 `json:"batch_token"`
	NoteCount   int    `json:"note_count"`
	Selected    []int  `json:"selected"`
	ImageBytes  int    `json:"image_bytes"`
	CanvasID    string `json:"canvas_id,omitempty"`
	AnchorID    string `json:"anchor_id,omitempty"`
	BatchID     string `json:"batch_id,omitempty"`
	Created     int    `json:"created_count,omitempty"`
}

func statusLine(st State) string {
	switch s := st.(type) {
	case Idle:
		return "Waiting for an image."
	case ImageAcquired:
		return fmt.Sprintf("Image ready (%d bytes).", s.Bytes)
	case Detecting:
		return "Detecting notes..."
	case Detected:
		return fmt.Sprintf("Detected %d notes.", s.Count)
	case Placing:
		return fmt.Sprintf("Placing %d notes...", s.Count)
	case Placed:
		return fmt.Sprintf("Created %d notes.", s.Created)
	case Failed:
		return Describe(&StageError{Stage: s.At, Err: s.Reason})
	default:
		panic(fmt.Sprintf("notemapper: unhandled state %T", st))
	}
}
