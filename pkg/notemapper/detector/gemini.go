package detector

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/jaypaulb/CanvusNoteMapper/pkg/logger"
	"github.com/jaypaulb/CanvusNoteMapper/pkg/notemapper"
)

const DefaultModel = "gemini-2.0-flash"

// generator is the part of *genai.GenerativeModel the detector uses.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type Config struct {
	Model       string
	Temperature float32
	Logger      notemapper.Logger
}

type Option func(*Config)

func WithModel(name string) Option {
	return func(c *Config) {
		if name != "" {
			c.Model = name
		}
	}
}

func WithTemperature(t float32) Option {
	return func(c *Config) {
		c.Temperature = t
	}
}

func WithLogger(log notemapper.Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func defaultConfig() *Config {
	return &Config{
		Model:       DefaultModel,
		Temperature: 0.1,
	}
}

// Gemini detects notes with a Google Gemini model constrained to a JSON
// response schema.
type Gemini struct {
	client *genai.Client
	gen    generator
	model  string
	log    notemapper.Logger
}

var _ notemapper.NoteDetector = (*Gemini)(nil)

func NewGemini(ctx context.Context, apiKey string, opts ...Option) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is empty")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   noteSchema(),
	}
	model.SetTemperature(cfg.Temperature)

	g := newGemini(model, cfg)
	g.client = client
	return g, nil
}

func newGemini(gen generator, cfg *Config) *Gemini {
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger().Named("detector")
	}
	return &Gemini{gen: gen, model: cfg.Model, log: cfg.Logger}
}

func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

// Detect sends the image and a framing prompt to the model and parses the
// first text part that holds a valid note array.
func (g *Gemini) Detect(ctx context.Context, img notemapper.Image, hints notemapper.Hints) ([]notemapper.DetectedNote, error) {
	if len(img.Data) == 0 {
		return nil, notemapper.Errorf(notemapper.ErrDetectionFailed, "gemini", "image is empty")
	}
	mime := img.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}

	g.log.Debugf("Sending %s %s image to %s", humanize.Bytes(uint64(len(img.Data))), mime, g.model)
	resp, err := g.gen.GenerateContent(ctx,
		genai.Text(buildPrompt(hints)),
		genai.Blob{MIMEType: mime, Data: img.Data},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if resp == nil {
		return nil, notemapper.Errorf(notemapper.ErrDetectionFailed, "gemini", "empty response")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return nil, notemapper.Errorf(notemapper.ErrDetectionFailed, "gemini", "prompt blocked: %v", resp.PromptFeedback.BlockReason)
	}

	var lastErr error
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			txt, ok := part.(genai.Text)
			if !ok {
				continue
			}
			notes, err := ParseNotes(string(txt))
			if err != nil {
				g.log.Debugf("Discarding unparseable reply part: %v", err)
				lastErr = err
				continue
			}
			g.log.Infof("Model %s found %d notes", g.model, len(notes))
			return notes, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, notemapper.Errorf(notemapper.ErrDetectionFailed, "gemini", "no text in %d candidates", len(resp.Candidates))
}

func noteSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"background_color": {Type: genai.TypeString},
				"location": {
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"x": {Type: genai.TypeInteger},
						"y": {Type: genai.TypeInteger},
					},
					Required: []string{"x", "y"},
				},
				"scale": {Type: genai.TypeNumber},
				"size": {
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"height": {Type: genai.TypeInteger},
						"width":  {Type: genai.TypeInteger},
					},
					Required: []string{"height", "width"},
				},
				"state":       {Type: genai.TypeString},
				"text":        {Type: genai.TypeString},
				"widget_type": {Type: genai.TypeString},
			},
			Required: []string{"background_color", "location", "scale", "size", "text", "widget_type"},
		},
	}
}

const basePrompt = `Analyze the image for sticky notes. For each note extract its text, its background colour and its size, and its precise top-left pixel location ('x','y'). Relative positioning and size matter, but location is key.

Return a JSON array. Each object:
{
  "background_color": "<hex_code>",
  "location": {"x": <pixel>, "y": <pixel>},
  "scale": <float>,
  "size": {"height": <pixel>, "width": <pixel>},
  "state": "normal",
  "text": "<extracted_text>",
  "widget_type": "Note"
}
Return [] if there are no notes.`

func buildPrompt(h notemapper.Hints) string {
	prompt := basePrompt
	if h.ImageWidth > 0 && h.ImageHeight > 0 {
		prompt += fmt.Sprintf("\n\nThe image is %dx%d pixels; report pixel coordinates in that frame.", h.ImageWidth, h.ImageHeight)
	}
	if h.ZoneWidth > 0 && h.ZoneHeight > 0 {
		prompt += fmt.Sprintf(" The photo shows a board region %.0f wide and %.0f tall (aspect %.2f).",
			h.ZoneWidth, h.ZoneHeight, h.ZoneWidth/h.ZoneHeight)
	}
	return prompt
}
