package notemapper

// ValidateAnchor checks that a can serve as a coordinate frame.
func ValidateAnchor(a Anchor) error {
	if a.Width <= 0 || a.Height <= 0 {
		return Errorf(ErrInvalidAnchor, "map", "anchor %q has non-positive size %gx%g", a.ID, a.Width, a.Height)
	}
	if a.Scale < 0 {
		return Errorf(ErrInvalidAnchor, "map", "anchor %q has negative scale %g", a.ID, a.Scale)
	}
	return nil
}

// MapNote moves a detected note from image pixels into the anchor's canvas
// frame. The anchor position is an additive offset and its scale converts
// photo pixels to canvas units. The note's own Scale is not a coordinate
// factor and is copied as-is.
func MapNote(detected DetectedNote, anchor Anchor) (PlacedNote, error) {
	if err := ValidateAnchor(anchor); err != nil {
		return PlacedNote{}, err
	}
	return mapNote(detected, anchor), nil
}

// MapNotes maps a whole batch against one anchor, keeping order.
func MapNotes(batch []DetectedNote, anchor Anchor) ([]PlacedNote, error) {
	if err := ValidateAnchor(anchor); err != nil {
		return nil, err
	}
	placed := make([]PlacedNote, len(batch))
	for i, d := range batch {
		placed[i] = mapNote(d, anchor)
	}
	return placed, nil
}

func mapNote(d DetectedNote, a Anchor) PlacedNote {
	s := a.EffectiveScale()
	return PlacedNote{
		Text:            d.Text,
		BackgroundColor: d.BackgroundColor,
		Location: Point{
			X: a.X + d.Location.X*s,
			Y: a.Y + d.Location.Y*s,
		},
		Size: Size{
			Width:  d.Size.Width * s,
			Height: d.Size.Height * s,
		},
		Scale: d.Scale,
		State: d.State,
	}
}
