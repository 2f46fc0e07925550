package cmd

import (
	"context"
	"fmt"

	"github.com/andresmejia3/veil/internal/locator"
	"github.com/andresmejia3/veil/internal/types"
	"github.com/andresmejia3/veil/internal/utils"
	"github.com/spf13/cobra"
)

// Default score thresholds. pigo scores are unbounded, external models usually report [0,1].
const (
	defaultCascadeThreshold = 5.0
	defaultProcessThreshold = 0.0
)

// scoreThreshold resolves a negative --detection-threshold to the locator default.
func scoreThreshold(opts Options, fallback float64) float32 {
	if opts.DetectionThreshold < 0 {
		return float32(fallback)
	}
	return float32(opts.DetectionThreshold)
}

// cascadeURL is where the pigo face cascade used by the default locator is published.
const cascadeURL = "https://github.com/esimov/pigo/raw/master/cascade/facefinder"

// Locator names accepted by --locator.
const (
	locatorCascade = "cascade"
	locatorStatic  = "static"
	locatorProcess = "process"
	locatorStore   = "store"
)

var locatorNames = map[string]bool{
	locatorCascade: true,
	locatorStatic:  true,
	locatorProcess: true,
	locatorStore:   true,
}

// addLocatorFlags registers the face-locator flags shared by blur, detect and scan.
func addLocatorFlags(cmd *cobra.Command, opts *Options) {
	f := cmd.Flags()
	f.StringVarP(&opts.Locator, "locator", "l", locatorCascade, "Face locator: cascade, static, process, store")
	f.StringVar(&opts.CascadePath, "cascade", "cascade/facefinder", "Path to the pigo face cascade (get it from "+cascadeURL+")")
	f.StringArrayVarP(&opts.RegionFlags, "region", "r", nil, "Extra region x,y,w,h to blur (repeatable)")
	f.StringVar(&opts.RegionsFile, "regions", "", "JSON file with extra regions to blur")
	f.StringVar(&opts.LocatorCmd, "locator-cmd", "", "Command of an external detector process (for --locator process)")
	f.IntVar(&opts.MinFaceSize, "min-size", 20, "Minimum face size in pixels")
	f.IntVar(&opts.MaxFaceSize, "max-size", 1000, "Maximum face size in pixels")
	f.Float64Var(&opts.ShiftFactor, "shift", 0.1, "Cascade sliding window shift factor")
	f.Float64Var(&opts.ScaleFactor, "scale", 1.1, "Cascade scale factor between detection sizes")
	f.Float64Var(&opts.IouThreshold, "iou", 0.2, "IoU threshold for clustering detections")
	f.Float64VarP(&opts.DetectionThreshold, "detection-threshold", "D", -1, "Minimum detector score to keep a face (negative = 5.0 for cascade, 0 for process)")
	f.IntVar(&opts.MaxDetectDim, "max-detect-dim", 1024, "Downscale images whose longest side exceeds this before detection (0 = never)")
	f.IntVar(&opts.MaxFaces, "max-faces", 10, "Keep at most this many faces per image (0 = unlimited)")
}

// extraRegions gathers the regions given with --region and --regions.
func extraRegions(opts Options) (locator.Static, error) {
	var out locator.Static
	for _, s := range opts.RegionFlags {
		r, err := types.ParseRegion(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if opts.RegionsFile != "" {
		fromFile, err := locator.LoadRegionsFile(opts.RegionsFile)
		if err != nil {
			return nil, err
		}
		out = append(out, fromFile...)
	}
	return out, nil
}

// validateLocatorFlags checks the locator selection before any heavy work starts.
func validateLocatorFlags(opts *Options) error {
	if !locatorNames[opts.Locator] {
		return fmt.Errorf("invalid locator '%s'. Must be one of: cascade, static, process, store", opts.Locator)
	}
	if opts.Locator == locatorStatic && len(opts.RegionFlags) == 0 && opts.RegionsFile == "" {
		return fmt.Errorf("static locator requires --region or --regions")
	}
	if opts.Locator == locatorProcess && opts.LocatorCmd == "" {
		return fmt.Errorf("process locator requires --locator-cmd")
	}
	if opts.MaxFaces < 0 {
		opts.MaxFaces = 0
	}
	return nil
}

// buildLocator assembles the primary locator followed by any extra regions.
// imageID is only consulted by the store locator. The returned cleanup must be called.
func buildLocator(ctx context.Context, opts Options, engineID int, imageID string) (locator.Locator, func(), error) {
	noop := func() {}

	extra, err := extraRegions(opts)
	if err != nil {
		return nil, noop, err
	}

	var primary locator.Locator
	cleanup := noop

	switch opts.Locator {
	case locatorStatic:
		return extra, noop, nil

	case locatorCascade:
		c, err := locator.NewCascade(locator.CascadeConfig{
			CascadeFile:    opts.CascadePath,
			MinSize:        opts.MinFaceSize,
			MaxSize:        opts.MaxFaceSize,
			ShiftFactor:    opts.ShiftFactor,
			ScaleFactor:    opts.ScaleFactor,
			IouThreshold:   opts.IouThreshold,
			ScoreThreshold: scoreThreshold(opts, defaultCascadeThreshold),
			MaxDimension:   opts.MaxDetectDim,
			MaxFaces:       opts.MaxFaces,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("%w (download the cascade from %s or pass --cascade)", err, cascadeURL)
		}
		primary = c

	case locatorProcess:
		p, err := locator.NewProcess(ctx, engineID, opts.LocatorCmd)
		if err != nil {
			return nil, noop, err
		}
		p.ScoreThreshold = scoreThreshold(opts, defaultProcessThreshold)
		p.MaxFaces = opts.MaxFaces
		primary = p
		cleanup = p.Close

	case locatorStore:
		if DB == nil {
			return nil, noop, fmt.Errorf("store locator requires a database connection")
		}
		primary = locator.Stored{Source: DB, ImageID: imageID}

	default:
		return nil, noop, fmt.Errorf("invalid locator '%s'", opts.Locator)
	}

	if len(extra) == 0 {
		return primary, cleanup, nil
	}
	return locator.Chain{primary, extra}, cleanup, nil
}

// processCommand digs the external detector out of loc so its stderr can be shown on failure.
func processCommand(loc locator.Locator) *utils.SafeCommand {
	switch l := loc.(type) {
	case *locator.Process:
		return l.Cmd
	case locator.Chain:
		for _, inner := range l {
			if cmd := processCommand(inner); cmd != nil {
				return cmd
			}
		}
	}
	return nil
}
