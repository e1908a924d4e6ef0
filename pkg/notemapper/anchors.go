package notemapper

import "context"

// AnchorRegistry resolves anchors through the canvas service. It keeps no
// cache: anchors can move between calls and a stale position would shift
// every placed note.
type AnchorRegistry struct {
	canvas CanvasService
}

func NewAnchorRegistry(canvas CanvasService) *AnchorRegistry {
	return &AnchorRegistry{canvas: canvas}
}

// ListCanvases returns the canvases visible to the configured credentials.
func (r *AnchorRegistry) ListCanvases(ctx context.Context) ([]Canvas, error) {
	canvases, err := r.canvas.ListCanvases(ctx)
	if err != nil {
		return nil, classify(err, ErrUpstreamUnavailable, "list canvases")
	}
	return canvases, nil
}

// ListAnchors fetches the anchors of canvasID.
func (r *AnchorRegistry) ListAnchors(ctx context.Context, canvasID string) ([]Anchor, error) {
	if canvasID == "" {
		return nil, Errorf(ErrMissingTarget, "list anchors", "canvas id is empty")
	}
	anchors, err := r.canvas.ListAnchors(ctx, canvasID)
	if err != nil {
		return nil, classify(err, ErrUpstreamUnavailable, "list anchors")
	}
	for i := range anchors {
		anchors[i] = withDefaultScale(anchors[i])
	}
	return anchors, nil
}

// GetAnchor fetches the current geometry of one anchor.
func (r *AnchorRegistry) GetAnchor(ctx context.Context, canvasID, anchorID string) (Anchor, error) {
	if canvasID == "" || anchorID == "" {
		return Anchor{}, Errorf(ErrMissingTarget, "get anchor", "canvas id %q, anchor id %q", canvasID, anchorID)
	}
	a, err := r.canvas.GetAnchor(ctx, canvasID, anchorID)
	if err != nil {
		return Anchor{}, classify(err, ErrUpstreamUnavailable, "get anchor")
	}
	if a.ID == "" {
		return Anchor{}, Errorf(ErrMissingFields, "get anchor", "response for %q has no id", anchorID)
	}
	if a.ID != anchorID {
		return Anchor{}, Errorf(ErrNotFound, "get anchor", "asked for %q, got %q", anchorID, a.ID)
	}
	return withDefaultScale(a), nil
}

func withDefaultScale(a Anchor) Anchor {
	a.Scale = a.EffectiveScale()
	return a
}
