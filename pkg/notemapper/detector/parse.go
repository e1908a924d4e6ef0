package detector

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/jaypaulb/CanvusNoteMapper/pkg/notemapper"
)

const (
	DefaultColor = "#fff68f"
	DefaultState = "normal"
)

// noteJSON is one element of the detector's reply. Geometry fields are
// pointers so a missing value is not mistaken for zero.
type noteJSON struct {
	BackgroundColor string   `json:"background_color"`
	Location        *xyJSON  `json:"location"`
	Size            *whJSON  `json:"size"`
	Scale           *float64 `json:"scale"`
	State           string   `json:"state"`
	Text            string   `json:"text"`
	WidgetType      string   `json:"widget_type"`
}

type xyJSON struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type whJSON struct {
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
}

// ParseNotes decodes a detector reply into notes. Markdown code fences around
// the JSON are ignored. An empty array is not an error.
func ParseNotes(reply string) ([]notemapper.DetectedNote, error) {
	body := extractJSON(reply)
	if body == "" {
		return nil, notemapper.Errorf(notemapper.ErrDetectionFailed, "parse notes", "empty reply")
	}

	var raw []noteJSON
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, notemapper.Wrap(notemapper.ErrDetectionFailed, "parse notes", err)
	}

	notes := make([]notemapper.DetectedNote, 0, len(raw))
	for i, r := range raw {
		n, err := r.toNote()
		if err != nil {
			return nil, notemapper.Wrap(notemapper.ErrDetectionFailed, "parse notes", fmt.Errorf("note %d: %w", i, err))
		}
		notes = append(notes, n)
	}
	return notes, nil
}

func (r noteJSON) toNote() (notemapper.DetectedNote, error) {
	if r.Location == nil || r.Location.X == nil || r.Location.Y == nil {
		return notemapper.DetectedNote{}, notemapper.Errorf(notemapper.ErrMissingFields, "note", "no location")
	}
	if r.Size == nil || r.Size.Width == nil || r.Size.Height == nil {
		return notemapper.DetectedNote{}, notemapper.Errorf(notemapper.ErrMissingFields, "note", "no size")
	}
	if *r.Size.Width <= 0 || *r.Size.Height <= 0 {
		return notemapper.DetectedNote{}, fmt.Errorf("non-positive size %gx%g", *r.Size.Width, *r.Size.Height)
	}

	scale := 1.0
	if r.Scale != nil && *r.Scale > 0 {
		scale = *r.Scale
	}
	state := strings.TrimSpace(r.State)
	if state == "" {
		state = DefaultState
	}
	color, ok := NormalizeColor(r.BackgroundColor)
	if !ok {
		color = DefaultColor
	}

	return notemapper.DetectedNote{
		Text:            strings.TrimSpace(r.Text),
		BackgroundColor: color,
		Location:        notemapper.Point{X: *r.Location.X, Y: *r.Location.Y},
		Size:            notemapper.Size{Width: *r.Size.Width, Height: *r.Size.Height},
		Scale:           scale,
		State:           state,
	}, nil
}

var namedColors = map[string]string{
	"yellow": "#fff68f",
	"pink":   "#ffb6c1",
	"green":  "#b4f8c8",
	"blue":   "#a0c4ff",
	"orange": "#ffc48c",
	"purple": "#cdb4db",
	"red":    "#ff8a80",
	"white":  "#ffffff",
}

// NormalizeColor turns a detector colour into lowercase "#rrggbb", keeping an
// alpha suffix if one was given ("#rrggbbaa"). Short hex and a few colour
// names are accepted.
func NormalizeColor(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	if named, ok := namedColors[s]; ok {
		return named, true
	}
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}

	alpha := ""
	if len(s) == 9 {
		alpha = s[7:]
		if _, err := colorful.Hex("#" + alpha + alpha + alpha); err != nil {
			return "", false
		}
		s = s[:7]
	}
	if len(s) != 4 && len(s) != 7 {
		return "", false
	}

	c, err := colorful.Hex(s)
	if err != nil {
		return "", false
	}
	return c.Hex() + alpha, true
}

// extractJSON strips a surrounding markdown code fence, if any.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
