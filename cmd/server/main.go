package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/jaypaulb/CanvusNoteMapper/pkg/logger"
	"github.com/jaypaulb/CanvusNoteMapper/pkg/notemapper"
	"github.com/jaypaulb/CanvusNoteMapper/pkg/notemapper/canvus"
	"github.com/jaypaulb/CanvusNoteMapper/pkg/notemapper/detector"
)

var (
	port           int
	dbPath         string
	staticDir      string
	allowedOrigins string
	canvusServer   string
	canvusAPIKey   string
	detectorName   string
	fixturePath    string
	modelName      string
	timeout        time.Duration
	sessionTTL     time.Duration
	noHistory      bool
)

func registerFlags() {
	flag.IntVar(&port, "port", getEnvInt("PORT", 8080), "HTTP server port")
	flag.StringVar(&dbPath, "db", getEnvOrDefault("NOTEMAPPER_DB_PATH", "notemapper.sqlite3"), "Path to the SQLite history database")
	flag.BoolVar(&noHistory, "no-history", false, "Do not record detection and placement history")
	flag.StringVar(&staticDir, "static", getEnvOrDefault("NOTEMAPPER_STATIC_DIR", ""), "Directory of UI files to serve at /")
	flag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
	flag.StringVar(&canvusServer, "canvus", getEnvOrDefault("CANVUS_SERVER", ""), "Canvus server URL")
	flag.StringVar(&canvusAPIKey, "canvus-key", getEnvOrDefault("CANVUS_API_KEY", ""), "Canvus API key")
	flag.StringVar(&detectorName, "detector", getEnvOrDefault("NOTEMAPPER_DETECTOR", "gemini"), "Note detector: gemini or fixture")
	flag.StringVar(&fixturePath, "fixture", getEnvOrDefault("NOTEMAPPER_FIXTURE", ""), "JSON file of notes for the fixture detector")
	flag.StringVar(&modelName, "model", getEnvOrDefault("NOTEMAPPER_MODEL", detector.DefaultModel), "Gemini model name")
	flag.DurationVar(&timeout, "timeout", getEnvDuration("NOTEMAPPER_TIMEOUT", 2*time.Minute), "Deadline for each detect, place or canvas call")
	flag.DurationVar(&sessionTTL, "session-ttl", getEnvDuration("NOTEMAPPER_SESSION_TTL", 30*time.Minute), "Idle time before a session expires (0 disables)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	var n int
	if _, err := fmt.Sscanf(os.Getenv(key), "%d", &n); err == nil {
		return n
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}

func main() {
	// .env is optional
	_ = godotenv.Load()
	registerFlags()
	flag.Parse()

	log := logger.GetLogger()

	var origins []string
	if allowedOrigins == "*" {
		origins = []string{"*"}
	} else {
		for _, o := range strings.Split(allowedOrigins, ",") {
			origins = append(origins, strings.TrimSpace(o))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	det, closeDetector, err := newDetector(ctx)
	if err != nil {
		log.Fatalf("Failed to create detector: %v", err)
	}
	defer closeDetector()

	canvas := newCanvasProvider(func(server, apiKey string) (canvasBackend, error) {
		return canvus.NewClient(server, apiKey, canvus.WithTimeout(timeout))
	})
	if canvusServer != "" && canvusAPIKey != "" {
		if err := canvas.Configure(canvusServer, canvusAPIKey); err != nil {
			log.Fatalf("Invalid Canvus configuration: %v", err)
		}
	} else {
		log.Warnf("CANVUS_SERVER or CANVUS_API_KEY not set; POST /api/credentials before using canvases")
	}

	var history notemapper.History
	if noHistory {
		dbPath = ""
	} else {
		history, err = notemapper.NewSQLiteHistory(dbPath)
		if err != nil {
			log.Fatalf("Failed to open history database: %v", err)
		}
		defer history.Close()
	}

	config := &ServerConfig{
		Port:           port,
		DBPath:         dbPath,
		StaticDir:      staticDir,
		DetectorName:   detectorName,
		Timeout:        timeout,
		SessionTTL:     sessionTTL,
		AllowedOrigins: origins,
	}

	server := NewServer(det, canvas, history, config)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// newDetector builds the detector named by -detector. The returned func
// releases it.
func newDetector(ctx context.Context) (notemapper.NoteDetector, func(), error) {
	switch detectorName {
	case "fixture":
		if fixturePath == "" {
			return detector.NewFixture(), func() {}, nil
		}
		f, err := detector.LoadFixture(fixturePath)
		if err != nil {
			return nil, nil, err
		}
		return f, func() {}, nil
	case "gemini":
		apiKey := getEnvOrDefault("GOOGLE_GENAI_API_KEY", os.Getenv("GEMINI_API_KEY"))
		g, err := detector.NewGemini(ctx, apiKey, detector.WithModel(modelName))
		if err != nil {
			return nil, nil, fmt.Errorf("%w (set GOOGLE_GENAI_API_KEY or use -detector fixture)", err)
		}
		return g, func() { g.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown detector %q (want gemini or fixture)", detectorName)
	}
}
