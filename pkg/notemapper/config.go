package notemapper

import "github.com/jaypaulb/CanvusNoteMapper/pkg/notemapper/imageprep"

type Config struct {
	SessionID string
	Image     imageprep.Options
	Logger    Logger
	Recorder  Recorder
}

type Option func(*Config)

// WithSessionID tags history records written by the pipeline.
func WithSessionID(id string) Option {
	return func(c *Config) {
		c.SessionID = id
	}
}

func WithImageOptions(opts imageprep.Options) Option {
	return func(c *Config) {
		c.Image = opts
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithRecorder enables history. Recording errors are logged, never returned.
func WithRecorder(r Recorder) Option {
	return func(c *Config) {
		c.Recorder = r
	}
}

func defaultConfig() *Config {
	return &Config{
		Image: imageprep.DefaultOptions(),
	}
}
