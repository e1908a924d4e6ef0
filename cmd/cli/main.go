package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/jaypaulb/CanvusNoteMapper/pkg/logger"
	"github.com/jaypaulb/CanvusNoteMapper/pkg/notemapper"
	"github.com/jaypaulb/CanvusNoteMapper/pkg/notemapper/canvus"
	"github.com/jaypaulb/CanvusNoteMapper/pkg/notemapper/detector"
)

// Global flags
var (
	dbPath       string
	canvusServer string
	canvusAPIKey string
	detectorName string
	fixturePath  string
	modelName    string
	timeout      time.Duration
)

func registerFlags() {
	flag.StringVar(&dbPath, "db", getEnvOrDefault("NOTEMAPPER_DB_PATH", "notemapper.sqlite3"), "Path to the SQLite history database")
	flag.StringVar(&canvusServer, "canvus", getEnvOrDefault("CANVUS_SERVER", ""), "Canvus server URL")
	flag.StringVar(&canvusAPIKey, "canvus-key", getEnvOrDefault("CANVUS_API_KEY", ""), "Canvus API key")
	flag.StringVar(&detectorName, "detector", getEnvOrDefault("NOTEMAPPER_DETECTOR", "gemini"), "Note detector: gemini or fixture")
	flag.StringVar(&fixturePath, "fixture", getEnvOrDefault("NOTEMAPPER_FIXTURE", ""), "JSON file of notes for the fixture detector")
	flag.StringVar(&modelName, "model", getEnvOrDefault("NOTEMAPPER_MODEL", detector.DefaultModel), "Gemini model name")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "Deadline for each remote call")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func fail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Printf("❌ %s\n", msg)
	logger.GetLogger().Errorf("%s", msg)
	os.Exit(1)
}

func newCanvusClient() *canvus.Client {
	if canvusServer == "" || canvusAPIKey == "" {
		fail("Canvus server and API key are required (--canvus/--canvus-key or CANVUS_SERVER/CANVUS_API_KEY)")
	}
	client, err := canvus.NewClient(canvusServer, canvusAPIKey, canvus.WithTimeout(timeout))
	if err != nil {
		fail("Invalid Canvus configuration: %v", err)
	}
	return client
}

func main() {
	_ = godotenv.Load()
	registerFlags()
	flag.Usage = printUsage
	flag.Parse()

	log := logger.GetLogger()

	printBanner()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	command := args[0]
	log.Debugf("Executing command: %s", command)

	switch command {
	case "canvases":
		handleCanvases()
	case "anchors":
		handleAnchors(args[1:])
	case "map":
		handleMap(args[1:])
	case "history":
		handleHistory(args[1:])
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printBanner() {
	banner := `
  _   _       _       __  __
 | \ | | ___ | |_ ___|  \/  | __ _ _ __  _ __   ___ _ __
 |  \| |/ _ \| __/ _ \ |\/| |/ _' | '_ \| '_ \ / _ \ '__|
 | |\  | (_) | ||  __/ |  | | (_| | |_) | |_) |  __/ |
 |_| \_|\___/ \__\___|_|  |_|\__,_| .__/| .__/ \___|_|
                                  |_|   |_|
        Sticky notes from a photo onto a Canvus anchor
`
	fmt.Println(banner)
}

func handleCanvases() {
	client := newCanvusClient()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	canvases, err := notemapper.NewAnchorRegistry(client).ListCanvases(ctx)
	if err != nil {
		fail("Failed to list canvases: %s", notemapper.Describe(err))
	}
	if len(canvases) == 0 {
		fmt.Println("📭 No canvases visible to this API key")
		return
	}

	fmt.Printf("🗂  Found %d canvas(es) on %s:\n\n", len(canvases), client.Server())
	for i, c := range canvases {
		fmt.Printf("%d. %s (ID: %s)\n", i+1, c.Name, c.ID)
	}
}

func handleAnchors(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: notemapper anchors <canvas_id>")
		os.Exit(1)
	}
	canvasID := args[0]

	client := newCanvusClient()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	anchors, err := notemapper.NewAnchorRegistry(client).ListAnchors(ctx, canvasID)
	if err != nil {
		fail("Failed to list anchors: %s", notemapper.Describe(err))
	}
	if len(anchors) == 0 {
		fmt.Printf("📭 Canvas %s has no anchors\n", canvasID)
		return
	}

	fmt.Printf("⚓ Found %d anchor(s):\n\n", len(anchors))
	for i, a := range anchors {
		fmt.Printf("%d. %s (ID: %s)\n", i+1, a.Name, a.ID)
		fmt.Printf("   Position: %.0f, %.0f | Size: %.0f x %.0f | Scale: %g\n", a.X, a.Y, a.Width, a.Height, a.Scale)
		if err := notemapper.ValidateAnchor(a); err != nil {
			fmt.Printf("   ⚠️  Cannot be used as a target: %v\n", err)
		}
		fmt.Println()
	}
}

func newDetector(ctx context.Context) (notemapper.NoteDetector, func()) {
	switch detectorName {
	case "fixture":
		if fixturePath == "" {
			return detector.NewFixture(), func() {}
		}
		f, err := detector.LoadFixture(fixturePath)
		if err != nil {
			fail("Failed to load fixture: %v", err)
		}
		return f, func() {}
	case "gemini":
		apiKey := getEnvOrDefault("GOOGLE_GENAI_API_KEY", os.Getenv("GEMINI_API_KEY"))
		g, err := detector.NewGemini(ctx, apiKey, detector.WithModel(modelName))
		if err != nil {
			fail("Failed to create detector: %v (set GOOGLE_GENAI_API_KEY or use --detector fixture)", err)
		}
		return g, func() { g.Close() }
	default:
		fail("Unknown detector %q (want gemini or fixture)", detectorName)
		return nil, nil
	}
}

// parseIndices reads a comma-separated list of 1-based note numbers.
func parseIndices(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid note number %q", part)
		}
		out = append(out, n-1)
	}
	return out, nil
}

func handleMap(args []string) {
	log := logger.GetLogger()

	// Separate the image path from flags
	var imagePath string
	var flagArgs []string
	for i, arg := range args {
		if !strings.HasPrefix(arg, "-") && imagePath == "" {
			imagePath = arg
		} else {
			flagArgs = append(flagArgs, args[i:]...)
			break
		}
	}

	mapCmd := flag.NewFlagSet("map", flag.ExitOnError)
	canvasID := mapCmd.String("canvas", "", "Target canvas ID (required)")
	anchorID := mapCmd.String("anchor", "", "Target anchor ID (required)")
	exclude := mapCmd.String("exclude", "", "Comma-separated note numbers to leave out, e.g. 1,3")
	dryRun := mapCmd.Bool("dry-run", false, "Detect and print notes without placing them")
	noHistory := mapCmd.Bool("no-history", false, "Do not record this run")
	mapCmd.Parse(flagArgs)

	if imagePath == "" || *canvasID == "" || *anchorID == "" {
		fmt.Println("Usage: notemapper map <image> --canvas <id> --anchor <id> [--exclude 1,3] [--dry-run]")
		os.Exit(1)
	}
	excluded, err := parseIndices(*exclude)
	if err != nil {
		fail("%v", err)
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		fail("Failed to read image: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	det, closeDetector := newDetector(ctx)
	defer closeDetector()

	opts := []notemapper.Option{notemapper.WithLogger(log.Named("pipeline"))}
	if !*noHistory {
		history, err := notemapper.NewSQLiteHistory(dbPath)
		if err != nil {
			log.Warnf("History disabled: %v", err)
		} else {
			defer history.Close()
			opts = append(opts, notemapper.WithRecorder(history), notemapper.WithSessionID("cli"))
		}
	}

	pipeline := notemapper.NewPipeline(det, newCanvusClient(), opts...)

	fmt.Printf("🖼  Loading %s (%s)...\n", imagePath, humanize.Bytes(uint64(len(data))))
	if err := pipeline.AcquireImage(data); err != nil {
		fail("Image rejected: %s", notemapper.Describe(err))
	}

	fmt.Println("🔍 Detecting notes...")
	start := time.Now()
	notes, err := pipeline.RunDetection(ctx, *canvasID, *anchorID)
	if err != nil {
		fail("Detection failed: %s", notemapper.Describe(err))
	}
	fmt.Printf("✅ Found %d note(s) in %s\n\n", len(notes), time.Since(start).Round(time.Millisecond))

	for _, i := range excluded {
		if err := pipeline.Deselect(i); err != nil {
			fail("Cannot exclude note %d: %v", i+1, err)
		}
	}

	selected := make(map[int]bool)
	for _, i := range pipeline.Selected() {
		selected[i] = true
	}
	for i, n := range notes {
		mark := "✔"
		if !selected[i] {
			mark = "✘"
		}
		fmt.Printf("%s %d. %q %s\n", mark, i+1, n.Text, n.BackgroundColor)
		fmt.Printf("     at %.0f, %.0f  size %.0f x %.0f\n", n.Location.X, n.Location.Y, n.Size.Width, n.Size.Height)
	}
	fmt.Println()

	if *dryRun {
		fmt.Printf("🧪 Dry run: %d note(s) would be placed\n", len(selected))
		return
	}

	fmt.Printf("📌 Placing %d note(s)...\n", len(selected))
	result, err := pipeline.Place(ctx, *canvasID, *anchorID)
	if err != nil {
		fail("Placement failed after %d note(s): %s", result.CreatedCount, notemapper.Describe(err))
	}
	fmt.Printf("✅ Created %d note(s) on canvas %s\n", result.CreatedCount, *canvasID)
	log.Infof("Placed %d notes on %s/%s", result.CreatedCount, *canvasID, *anchorID)
}

func handleHistory(args []string) {
	histCmd := flag.NewFlagSet("history", flag.ExitOnError)
	limit := histCmd.Int("limit", 20, "Number of batches to list")
	del := histCmd.Bool("delete", false, "Delete the given batch")

	var batchID string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		batchID, args = args[0], args[1:]
	}
	histCmd.Parse(args)

	history, err := notemapper.NewSQLiteHistory(dbPath)
	if err != nil {
		fail("Failed to open history: %v", err)
	}
	defer history.Close()

	switch {
	case batchID != "" && *del:
		if err := history.DeleteBatch(batchID); err != nil {
			fail("Failed to delete batch: %v", err)
		}
		fmt.Printf("🗑  Deleted batch %s\n", batchID)
	case batchID != "":
		printBatch(history, batchID)
	default:
		printHistory(history, *limit)
	}
}

func printHistory(history notemapper.History, limit int) {
	batches, err := history.ListBatches(limit)
	if err != nil {
		fail("Failed to list history: %v", err)
	}
	if len(batches) == 0 {
		fmt.Println("📭 No detections recorded yet")
		return
	}

	fmt.Printf("📚 Last %d detection(s):\n\n", len(batches))
	for i, b := range batches {
		fmt.Printf("%d. %s  %s\n", i+1, b.ID, humanize.Time(b.CreatedAt))
		fmt.Printf("   Canvas %s, anchor %s (%s) | %d note(s) | %d placement(s)\n",
			b.CanvasID, b.AnchorName, b.AnchorID, b.NoteCount, b.Placements)
	}
}

func printBatch(history notemapper.History, id string) {
	b, err := history.GetBatch(id)
	if err != nil {
		fail("Failed to load batch: %v", err)
	}

	fmt.Printf("Batch %s (%s)\n", b.ID, humanize.Time(b.CreatedAt))
	fmt.Printf("   Anchor: %s at %.0f, %.0f, %.0f x %.0f, scale %g\n",
		b.Anchor.Name, b.Anchor.X, b.Anchor.Y, b.Anchor.Width, b.Anchor.Height, b.Anchor.Scale)
	fmt.Printf("   Image:  %s\n\n", humanize.Bytes(uint64(b.ImageBytes)))

	for _, n := range b.Notes {
		fmt.Printf("%d. %q %s\n", n.Index+1, n.Placed.Text, n.Placed.BackgroundColor)
		fmt.Printf("     image %.0f, %.0f -> canvas %.0f, %.0f\n",
			n.Detected.Location.X, n.Detected.Location.Y, n.Placed.Location.X, n.Placed.Location.Y)
	}

	if len(b.History) > 0 {
		fmt.Println("\nPlacements:")
	}
	for _, p := range b.History {
		status := "ok"
		if p.Error != "" {
			status = p.Error
		}
		fmt.Printf("   %s  %d created from %d selected: %s\n",
			humanize.Time(p.CreatedAt), p.CreatedCount, len(p.Indices), status)
	}
}

func printUsage() {
	fmt.Println("NoteMapper - place photographed sticky notes on a Canvus canvas")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  --db <path>          History database (env: NOTEMAPPER_DB_PATH, default: notemapper.sqlite3)")
	fmt.Println("  --canvus <url>       Canvus server (env: CANVUS_SERVER)")
	fmt.Println("  --canvus-key <key>   Canvus API key (env: CANVUS_API_KEY)")
	fmt.Println("  --detector <name>    gemini or fixture (env: NOTEMAPPER_DETECTOR, default: gemini)")
	fmt.Println("  --fixture <file>     Notes JSON for the fixture detector (env: NOTEMAPPER_FIXTURE)")
	fmt.Println("  --model <name>       Gemini model (env: NOTEMAPPER_MODEL)")
	fmt.Println("  --timeout <dur>      Deadline for remote calls (default: 2m)")
	fmt.Println("\nUsage:")
	fmt.Println("  notemapper [global-options] canvases")
	fmt.Println("  notemapper [global-options] anchors <canvas_id>")
	fmt.Println("  notemapper [global-options] map <image> --canvas <id> --anchor <id> [--exclude 1,3] [--dry-run]")
	fmt.Println("  notemapper [global-options] history [--limit n]")
	fmt.Println("  notemapper [global-options] history <batch_id> [--delete]")
	fmt.Println("\nExamples:")
	fmt.Println("  # Preview what the model sees, without touching the canvas")
	fmt.Println("  notemapper map board.jpg --canvas 1a2b --anchor 9f8e --dry-run")
	fmt.Println()
	fmt.Println("  # Place everything except notes 2 and 5")
	fmt.Println("  notemapper map board.jpg --canvas 1a2b --anchor 9f8e --exclude 2,5")
}
