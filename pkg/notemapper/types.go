package notemapper

// Point is a top-left position. Units depend on the owner: image pixels on a
// DetectedNote, canvas units on a PlacedNote or Anchor.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a width/height pair in the same units as the owning Point.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Canvas identifies a remote canvas.
type Canvas struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CanvasSize is the extent of the shared canvas widget.
type CanvasSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Anchor is a named rectangular region of a canvas, in canvas units.
type Anchor struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Scale  float64 `json:"scale"` // canvas units per detector pixel, 0 means 1.0
}

// EffectiveScale returns the anchor's scale with the 1.0 default applied.
func (a Anchor) EffectiveScale() float64 {
	if a.Scale == 0 {
		return 1.0
	}
	return a.Scale
}

// SameGeometry reports whether two anchors describe the same frame.
func (a Anchor) SameGeometry(b Anchor) bool {
	return a.X == b.X && a.Y == b.Y &&
		a.Width == b.Width && a.Height == b.Height &&
		a.EffectiveScale() == b.EffectiveScale()
}

// DetectedNote is one raw detector result in image-pixel space.
type DetectedNote struct {
	Text            string  `json:"text"`
	BackgroundColor string  `json:"background_color"`
	Location        Point   `json:"location"`
	Size            Size    `json:"size"`
	Scale           float64 `json:"scale"`
	State           string  `json:"state"`
}

// PlacedNote is a DetectedNote whose Location and Size are in canvas units.
// Scale is the detector's hint, carried through untouched.
type PlacedNote struct {
	Text            string  `json:"text"`
	BackgroundColor string  `json:"background_color"`
	Location        Point   `json:"location"`
	Size            Size    `json:"size"`
	Scale           float64 `json:"scale"`
	State           string  `json:"state"`
}

// Image is a prepared photo ready to hand to a NoteDetector.
type Image struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// Hints tell the detector how the photographed zone is framed.
type Hints struct {
	ZoneWidth   float64
	ZoneHeight  float64
	ZoneX       float64
	ZoneY       float64
	ZoneScale   float64
	ImageWidth  int
	ImageHeight int
}

// HintsFor builds detector hints from the anchor and the prepared image.
func HintsFor(a Anchor, img Image) Hints {
	return Hints{
		ZoneWidth:   a.Width,
		ZoneHeight:  a.Height,
		ZoneX:       a.X,
		ZoneY:       a.Y,
		ZoneScale:   a.EffectiveScale(),
		ImageWidth:  img.Width,
		ImageHeight: img.Height,
	}
}

// PlaceResult reports how many notes the canvas service created.
type PlaceResult struct {
	CreatedCount int `json:"created_count"`
}
