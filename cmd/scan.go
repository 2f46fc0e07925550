package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/andresmejia3/veil/internal/imageio"
	"github.com/andresmejia3/veil/internal/locator"
	"github.com/andresmejia3/veil/internal/store"
	"github.com/andresmejia3/veil/internal/types"
	"github.com/andresmejia3/veil/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var scanOpts Options

var scanCmd = &cobra.Command{
	Use:         "scan",
	Short:       "Index the faces of every image in a directory with parallel engines",
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runScan(cmd.Context(), scanOpts)
	},
}

func init() {
	scanCmd.Flags().StringVarP(&scanOpts.InputPath, "input", "i", "", "Directory of images to scan (walked recursively)")
	scanCmd.Flags().IntVarP(&scanOpts.NumEngines, "engines", "e", 1, "Number of parallel engine workers")
	scanCmd.Flags().StringVar(&scanOpts.RedactDir, "redact-dir", "", "Also write a blurred copy of every image under this directory")
	scanCmd.Flags().IntVarP(&scanOpts.Strength, "strength", "s", 10, "Blur strength for --redact-dir copies")
	scanCmd.Flags().IntVarP(&scanOpts.Quality, "quality", "q", imageio.DefaultQuality, "JPEG quality for --redact-dir copies (1-100)")
	addLocatorFlags(scanCmd, &scanOpts)

	scanCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(scanCmd)
}

// scanResult wraps the output from an engine to be sent to the aggregator
type scanResult struct {
	Index   int
	Path    string
	ImageID string
	Width   int
	Height  int
	Regions []types.Region
	Err     error
}

// scanSummary is what the aggregator reports back once the results channel closes.
type scanSummary struct {
	Images   int
	Faces    int
	Faceless int
	Failed   int
	Err      error
}

// runScan orchestrates the directory scan: image discovery, Engine Pool, DB persistence, and Progress tracking.
func runScan(ctx context.Context, opts Options) error {
	if err := validateScanFlags(&opts); err != nil {
		return err
	}

	// 1. Database is initialized in Root PersistentPreRunE

	// 2. Discover images
	paths, err := collectImages(opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to list input directory", err, nil)
		return err
	}
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "😶 No images found under %s\n", opts.InputPath)
		return nil
	}
	if opts.NumEngines > len(paths) {
		opts.NumEngines = len(paths)
	}
	fmt.Fprintf(os.Stderr, "🗂️  Found %d image(s)\n", len(paths))
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Engine(s)...\n", opts.NumEngines)

	// 3. Start every engine before any work is queued so a bad locator fails fast
	locators := make([]locator.Locator, 0, opts.NumEngines)
	for i := 0; i < opts.NumEngines; i++ {
		loc, cleanup, err := buildLocator(ctx, opts, i, "")
		if err != nil {
			utils.ShowError("Engine startup failed", err, nil)
			return err
		}
		defer cleanup()
		locators = append(locators, loc)
	}

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("🔍 Veil Scanning"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	taskChan := make(chan types.ImageTask, opts.NumEngines)
	resultsChan := make(chan scanResult, opts.NumEngines*2)
	var wg sync.WaitGroup

	// 4. Start Aggregator (Consumer)
	// Must run concurrently to prevent deadlock on resultsChan
	aggDone := make(chan scanSummary)
	go func() {
		// Results already computed are still saved after Ctrl+C
		aggDone <- processResults(context.WithoutCancel(ctx), resultsChan, DB, bar)
	}()

	// 5. Spawn the Engine Pool
	for i, loc := range locators {
		wg.Add(1)
		go func(loc locator.Locator) {
			defer wg.Done()
			startEngine(ctx, loc, taskChan, resultsChan, opts)
		}(loc)
		utils.Logger().Debug("engine started", "engine", i)
	}

	// 6. Feed tasks until done or cancelled
feed:
	for i, p := range paths {
		select {
		case taskChan <- types.ImageTask{Index: i, Path: p}:
		case <-ctx.Done():
			break feed
		}
	}

	// 7. Cleanup & Completion Check
	close(taskChan)
	wg.Wait()
	close(resultsChan)
	summary := <-aggDone
	bar.Finish()

	printScanSummary(summary)

	if summary.Err != nil {
		utils.ShowError("Failed to persist scan results", summary.Err, nil)
		return summary.Err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("scan interrupted: %w", err)
	}
	return nil
}

// collectImages walks root and returns every image file in lexical order.
func collectImages(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && utils.IsImagePath(path) {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}

// startEngine runs one locator over tasks until the channel closes.
// Per-image failures are reported as results so the aggregator always sees every index.
func startEngine(ctx context.Context, loc locator.Locator, tasks <-chan types.ImageTask, results chan<- scanResult, opts Options) {
	for task := range tasks {
		results <- scanImage(ctx, loc, task, opts)
	}
}

func scanImage(ctx context.Context, loc locator.Locator, task types.ImageTask, opts Options) scanResult {
	res := scanResult{Index: task.Index, Path: task.Path}

	img, err := imageio.Load(task.Path)
	if err != nil {
		res.Err = err
		return res
	}
	b := img.Bounds()
	res.Width, res.Height = b.Dx(), b.Dy()

	if res.ImageID, err = utils.GenerateImageID(task.Path); err != nil {
		res.Err = err
		return res
	}

	if res.Regions, err = loc.Locate(ctx, img); err != nil {
		res.Err = err
		return res
	}

	if opts.RedactDir != "" {
		rel, err := filepath.Rel(opts.InputPath, task.Path)
		if err != nil {
			rel = filepath.Base(task.Path)
		}
		out := redactPath(opts.RedactDir, rel)
		if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
			res.Err = err
			return res
		}
		if err := imageio.Save(out, blurImage(img, res.Regions, opts.Strength), opts.Quality); err != nil {
			res.Err = err
			return res
		}
	}
	return res
}

// redactPath maps an input-relative path into dir. Formats that can be decoded
// but not encoded (webp) are written as PNG.
func redactPath(dir, rel string) string {
	out := filepath.Join(dir, rel)
	if _, err := imageio.FormatFor(out); err != nil {
		out = strings.TrimSuffix(out, filepath.Ext(out)) + ".png"
	}
	return out
}

// regionWriter is the part of the store the aggregator writes to.
type regionWriter interface {
	EnsureImageMetadata(ctx context.Context, imageID, path string, width, height int) error
	ClearRegions(ctx context.Context, imageID, source string) error
	InsertRegions(ctx context.Context, imageID string, regions []types.Region, source string) error
}

// processResults persists results in image order. It is the only goroutine touching the DB.
func processResults(ctx context.Context, results <-chan scanResult, db regionWriter, bar *progressbar.ProgressBar) scanSummary {
	// Buffer for re-ordering results (Engine 2 might finish before Engine 1)
	buffer := make(map[int]scanResult)
	next := 0
	var sum scanSummary

	for res := range results {
		buffer[res.Index] = res

		// Process images in strict order
		for {
			r, ok := buffer[next]
			if !ok {
				break
			}
			delete(buffer, next)
			next++
			bar.Add(1)

			if r.Err != nil {
				sum.Failed++
				fmt.Fprintf(os.Stderr, "\n⚠️  %s: %v\n", r.Path, r.Err)
				continue
			}
			sum.Images++
			sum.Faces += len(r.Regions)
			if len(r.Regions) == 0 {
				sum.Faceless++
			}

			// Stop writing after the first DB failure but keep draining so engines never block.
			if sum.Err != nil {
				continue
			}
			if err := persistRegions(ctx, db, r); err != nil {
				sum.Err = fmt.Errorf("%s: %w", r.Path, err)
			}
		}
	}
	return sum
}

// persistRegions replaces the detector regions of one image, leaving manual ones untouched.
func persistRegions(ctx context.Context, db regionWriter, r scanResult) error {
	if err := db.EnsureImageMetadata(ctx, r.ImageID, r.Path, r.Width, r.Height); err != nil {
		return fmt.Errorf("failed to register image metadata: %w", err)
	}
	if err := db.ClearRegions(ctx, r.ImageID, store.SourceDetector); err != nil {
		return fmt.Errorf("failed to clear detector regions: %w", err)
	}
	if err := db.InsertRegions(ctx, r.ImageID, r.Regions, store.SourceDetector); err != nil {
		return fmt.Errorf("failed to insert regions: %w", err)
	}
	return nil
}

func printScanSummary(sum scanSummary) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 SCAN SUMMARY\n")
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🖼️  Images Scanned:          %d\n", sum.Images)
	fmt.Fprintf(os.Stderr, "👁️  Total Face Regions:      %d\n", sum.Faces)
	fmt.Fprintf(os.Stderr, "😶 Images Without Faces:    %d\n", sum.Faceless)
	if sum.Failed > 0 {
		fmt.Fprintf(os.Stderr, "⚠️  Images Failed:           %d\n", sum.Failed)
	}
	if sum.Err != nil {
		fmt.Fprintf(os.Stderr, "🚨 Results were only partially saved\n")
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// isWithin reports whether path is dir itself or lies below it.
func isWithin(dir, path string) bool {
	dirAbs, err1 := filepath.Abs(dir)
	pathAbs, err2 := filepath.Abs(path)
	if err1 != nil || err2 != nil {
		return false
	}
	rel, err := filepath.Rel(dirAbs, pathAbs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// validateScanFlags ensures all CLI arguments are valid before starting heavy processes.
func validateScanFlags(opts *Options) error {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			utils.ShowError("Input directory does not exist", err, nil)
			return err
		}
		utils.ShowError("Unable to access input directory", err, nil)
		return err
	}
	if !info.IsDir() {
		err := fmt.Errorf("not a directory")
		utils.ShowError("Input path is a file, expected a directory of images", err, nil)
		return err
	}
	if opts.NumEngines < 1 {
		opts.NumEngines = 1
	}
	if opts.Locator == locatorStore {
		err := fmt.Errorf("scan writes the store, it cannot read its regions from it")
		utils.ShowError("Invalid locator for scan", err, nil)
		return err
	}
	if opts.RedactDir != "" {
		if isWithin(opts.InputPath, opts.RedactDir) {
			err := fmt.Errorf("redact-dir must be outside the input directory, or a later scan indexes the blurred copies")
			utils.ShowError("Configuration Error", err, nil)
			return err
		}
		if opts.Strength < 1 {
			err := fmt.Errorf("must be >= 1, got %d", opts.Strength)
			utils.ShowError("Invalid blur strength", err, nil)
			return err
		}
		if opts.Quality < 1 || opts.Quality > 100 {
			err := fmt.Errorf("must be between 1 and 100, got %d", opts.Quality)
			utils.ShowError("Invalid JPEG quality", err, nil)
			return err
		}
	}
	if err := validateLocatorFlags(opts); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	return nil
}
