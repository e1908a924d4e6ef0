package detector

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"

	"github.com/jaypaulb/CanvusNoteMapper/pkg/logger"
	"github.com/jaypaulb/CanvusNoteMapper/pkg/notemapper"
)

type fakeGenerator struct {
	resp  *genai.GenerateContentResponse
	err   error
	parts []genai.Part
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.parts = parts
	return f.resp, f.err
}

func textResponse(texts ...string) *genai.GenerateContentResponse {
	parts := make([]genai.Part, len(texts))
	for i, t := range texts {
		parts[i] = genai.Text(t)
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
	}
}

func newTestGemini(gen generator) *Gemini {
	cfg := defaultConfig()
	lc := logger.DefaultConfig()
	lc.Output = io.Discard
	cfg.Logger = logger.New(lc)
	return newGemini(gen, cfg)
}

var testImage = notemapper.Image{Data: []byte{1, 2, 3}, MIMEType: "image/png", Width: 640, Height: 480}

const twoNotes = `[
  {"background_color": "#FFFF00", "location": {"x": 10, "y": 20}, "scale": 1, "size": {"width": 100, "height": 80}, "state": "normal", "text": " Buy milk ", "widget_type": "Note"},
  {"background_color": "pink", "location": {"x": 300, "y": 40}, "size": {"width": 90, "height": 90}, "text": "Ship it", "widget_type": "Note"}
]`

func TestParseNotes(t *testing.T) {
	notes, err := ParseNotes(twoNotes)
	if err != nil {
		t.Fatalf("ParseNotes failed: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(notes))
	}

	first := notes[0]
	if first.Text != "Buy milk" {
		t.Errorf("text not trimmed: %q", first.Text)
	}
	if first.BackgroundColor != "#ffff00" {
		t.Errorf("color: got %q", first.BackgroundColor)
	}
	if first.Location != (notemapper.Point{X: 10, Y: 20}) || first.Size != (notemapper.Size{Width: 100, Height: 80}) {
		t.Errorf("geometry: %+v %+v", first.Location, first.Size)
	}

	second := notes[1]
	if second.Scale != 1 || second.State != "normal" {
		t.Errorf("defaults not applied: scale=%g state=%q", second.Scale, second.State)
	}
	if second.BackgroundColor != namedColors["pink"] {
		t.Errorf("named color: got %q", second.BackgroundColor)
	}
}

func TestParseNotesStripsCodeFence(t *testing.T) {
	for _, reply := range []string{
		"```json\n" + twoNotes + "\n```",
		"```\n" + twoNotes + "\n```",
		"  " + twoNotes + "  ",
	} {
		notes, err := ParseNotes(reply)
		if err != nil {
			t.Errorf("ParseNotes(%q...) failed: %v", reply[:10], err)
			continue
		}
		if len(notes) != 2 {
			t.Errorf("expected 2 notes, got %d", len(notes))
		}
	}
}

func TestParseNotesEmptyArray(t *testing.T) {
	notes, err := ParseNotes("[]")
	if err != nil {
		t.Fatalf("empty array should not fail: %v", err)
	}
	if notes == nil || len(notes) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", notes)
	}
}

func TestParseNotesRejects(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		missing bool
	}{
		{"blank", "   ", false},
		{"not json", "I see three notes", false},
		{"object", `{"text": "x"}`, false},
		{"no location", `[{"size": {"width": 1, "height": 1}}]`, true},
		{"half location", `[{"location": {"x": 1}, "size": {"width": 1, "height": 1}}]`, true},
		{"no size", `[{"location": {"x": 1, "y": 2}}]`, true},
		{"zero size", `[{"location": {"x": 1, "y": 2}, "size": {"width": 0, "height": 1}}]`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseNotes(tt.reply)
			if !errors.Is(err, notemapper.ErrDetectionFailed) {
				t.Fatalf("expected DetectionFailed, got %v", err)
			}
			if got := errors.Is(err, notemapper.ErrMissingFields); got != tt.missing {
				t.Errorf("MissingFields: got %v, want %v (%v)", got, tt.missing, err)
			}
			if notemapper.KindOf(err) != notemapper.ErrDetectionFailed {
				t.Errorf("outer kind: got %v", notemapper.KindOf(err))
			}
		})
	}
}

func TestNormalizeColor(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"#FFAA00", "#ffaa00", true},
		{"ffaa00", "#ffaa00", true},
		{"#fa0", "#ffaa00", true},
		{"#FFAA00CC", "#ffaa00cc", true},
		{"Yellow", "#fff68f", true},
		{"", "", false},
		{"#ggg", "", false},
		{"#12345", "", false},
		{"#ffaa00zz", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeColor(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("NormalizeColor(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseNotesFallsBackToDefaultColor(t *testing.T) {
	notes, err := ParseNotes(`[{"background_color": "sparkly", "location": {"x": 1, "y": 2}, "size": {"width": 3, "height": 4}}]`)
	if err != nil {
		t.Fatalf("ParseNotes failed: %v", err)
	}
	if notes[0].BackgroundColor != DefaultColor {
		t.Errorf("color: got %q, want %q", notes[0].BackgroundColor, DefaultColor)
	}
}

func TestGeminiDetect(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("not json at all", twoNotes)}
	g := newTestGemini(gen)

	hints := notemapper.Hints{ZoneWidth: 2000, ZoneHeight: 1000, ImageWidth: 640, ImageHeight: 480}
	notes, err := g.Detect(context.Background(), testImage, hints)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(notes) != 2 {
		t.Errorf("expected 2 notes, got %d", len(notes))
	}

	if len(gen.parts) != 2 {
		t.Fatalf("expected prompt and image parts, got %d", len(gen.parts))
	}
	prompt, ok := gen.parts[0].(genai.Text)
	if !ok {
		t.Fatalf("first part is %T, want genai.Text", gen.parts[0])
	}
	if !strings.Contains(string(prompt), "640x480") || !strings.Contains(string(prompt), "aspect 2.00") {
		t.Errorf("prompt lacks framing hints: %s", prompt)
	}
	blob, ok := gen.parts[1].(genai.Blob)
	if !ok || blob.MIMEType != "image/png" || len(blob.Data) != 3 {
		t.Errorf("image part: %#v", gen.parts[1])
	}
}

func TestGeminiDetectFailures(t *testing.T) {
	upstream := errors.New("quota exceeded")

	tests := []struct {
		name string
		gen  *fakeGenerator
		want error
	}{
		{"transport", &fakeGenerator{err: upstream}, upstream},
		{"nil response", &fakeGenerator{}, notemapper.ErrDetectionFailed},
		{"no candidates", &fakeGenerator{resp: &genai.GenerateContentResponse{}}, notemapper.ErrDetectionFailed},
		{"garbage", &fakeGenerator{resp: textResponse("nope")}, notemapper.ErrDetectionFailed},
		{"blocked", &fakeGenerator{resp: &genai.GenerateContentResponse{
			PromptFeedback: &genai.PromptFeedback{BlockReason: genai.BlockReasonSafety},
		}}, notemapper.ErrDetectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestGemini(tt.gen).Detect(context.Background(), testImage, notemapper.Hints{})
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGeminiDetectEmptyImage(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("[]")}
	_, err := newTestGemini(gen).Detect(context.Background(), notemapper.Image{}, notemapper.Hints{})
	if !errors.Is(err, notemapper.ErrDetectionFailed) {
		t.Errorf("expected DetectionFailed, got %v", err)
	}
	if gen.parts != nil {
		t.Error("model should not be called for an empty image")
	}
}

func TestNewGeminiRequiresKey(t *testing.T) {
	if _, err := NewGemini(context.Background(), ""); err == nil {
		t.Error("expected error for empty api key")
	}
}

func TestFixture(t *testing.T) {
	f := NewFixture()
	notes, err := f.Detect(context.Background(), testImage, notemapper.Hints{})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(notes) != 5 {
		t.Fatalf("expected 5 notes, got %d", len(notes))
	}

	notes[0].Text = "mutated"
	again, _ := f.Detect(context.Background(), testImage, notemapper.Hints{})
	if again[0].Text == "mutated" {
		t.Error("Detect should return a copy")
	}
}

func TestFixtureHonoursContext(t *testing.T) {
	f := &Fixture{Delay: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := f.Detect(ctx, testImage, notemapper.Hints{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestLoadFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.json")
	if err := os.WriteFile(path, []byte(twoNotes), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	f, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture failed: %v", err)
	}
	if len(f.Notes) != 2 {
		t.Errorf("expected 2 notes, got %d", len(f.Notes))
	}

	if _, err := LoadFixture(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
