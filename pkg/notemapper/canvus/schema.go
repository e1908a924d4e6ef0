package canvus

import (
	"errors"
	"net/http"

	"github.com/jaypaulb/CanvusNoteMapper/pkg/notemapper"
)

var errDecode = errors.New("failed to decode response")

// Response fields are pointers so an absent field can be told apart from a
// zero value.

type canvasJSON struct {
	ID   *string `json:"id"`
	Name *string `json:"name"`
}

func (c canvasJSON) toCanvas() (notemapper.Canvas, bool) {
	if c.ID == nil || *c.ID == "" || c.Name == nil || *c.Name == "" {
		return notemapper.Canvas{}, false
	}
	return notemapper.Canvas{ID: *c.ID, Name: *c.Name}, true
}

type pointJSON struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type sizeJSON struct {
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
}

type anchorJSON struct {
	ID       *string    `json:"id"`
	Name     *string    `json:"anchor_name"`
	Location *pointJSON `json:"location"`
	Size     *sizeJSON  `json:"size"`
	Scale    *float64   `json:"scale"`
}

func (a anchorJSON) toAnchor() (notemapper.Anchor, error) {
	var missing []string
	if a.ID == nil || *a.ID == "" {
		missing = append(missing, "id")
	}
	if a.Name == nil {
		missing = append(missing, "anchor_name")
	}
	if a.Location == nil || a.Location.X == nil || a.Location.Y == nil {
		missing = append(missing, "location")
	}
	if a.Size == nil || a.Size.Width == nil || a.Size.Height == nil {
		missing = append(missing, "size")
	}
	if len(missing) > 0 {
		return notemapper.Anchor{}, notemapper.Errorf(notemapper.ErrMissingFields, "decode anchor", "missing %v", missing)
	}

	anchor := notemapper.Anchor{
		ID:     *a.ID,
		Name:   *a.Name,
		X:      *a.Location.X,
		Y:      *a.Location.Y,
		Width:  *a.Size.Width,
		Height: *a.Size.Height,
	}
	if a.Scale != nil {
		anchor.Scale = *a.Scale
	}
	return anchor, nil
}

// widgetJSON covers the widget listing. Older servers put the size at the
// top level, newer ones nest it.
type widgetJSON struct {
	ID         string    `json:"id"`
	WidgetType string    `json:"widget_type"`
	Width      *float64  `json:"width"`
	Height     *float64  `json:"height"`
	Size       *sizeJSON `json:"size"`
}

func (w widgetJSON) size() (notemapper.CanvasSize, bool) {
	if w.Size != nil && w.Size.Width != nil && w.Size.Height != nil {
		return notemapper.CanvasSize{Width: *w.Size.Width, Height: *w.Size.Height}, true
	}
	if w.Width != nil && w.Height != nil {
		return notemapper.CanvasSize{Width: *w.Width, Height: *w.Height}, true
	}
	return notemapper.CanvasSize{}, false
}

type locationOut struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type sizeOut struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type notePayload struct {
	WidgetType      string      `json:"widget_type"`
	Text            string      `json:"text"`
	BackgroundColor string      `json:"background_color,omitempty"`
	Location        locationOut `json:"location"`
	Size            sizeOut     `json:"size"`
	Scale           float64     `json:"scale"`
	State           string      `json:"state"`
}

func newNotePayload(n notemapper.PlacedNote) notePayload {
	scale := n.Scale
	if scale == 0 {
		scale = 1
	}
	state := n.State
	if state == "" {
		state = "normal"
	}
	return notePayload{
		WidgetType:      noteWidgetType,
		Text:            n.Text,
		BackgroundColor: n.BackgroundColor,
		Location:        locationOut{X: n.Location.X, Y: n.Location.Y},
		Size:            sizeOut{Width: n.Size.Width, Height: n.Size.Height},
		Scale:           scale,
		State:           state,
	}
}

// readError classifies a failed read. Unknown ids are NotFound, a body that
// does not parse is MissingFields, everything else means the server could
// not be used.
func readError(op string, err error) error {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
		return notemapper.Wrap(notemapper.ErrNotFound, op, err)
	case errors.Is(err, errDecode):
		return notemapper.Wrap(notemapper.ErrMissingFields, op, err)
	default:
		return notemapper.Wrap(notemapper.ErrUpstreamUnavailable, op, err)
	}
}

// createError classifies a failed note creation. Rejections of the target or
// payload are InvalidTarget.
func createError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
			return notemapper.Wrap(notemapper.ErrInvalidTarget, "create note", err)
		}
	}
	return notemapper.Wrap(notemapper.ErrUpstreamUnavailable, "create note", err)
}
