package cmd

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/andresmejia3/veil/internal/blur"
	"github.com/andresmejia3/veil/internal/imageio"
	"github.com/andresmejia3/veil/internal/pixbuf"
	"github.com/andresmejia3/veil/internal/types"
	"github.com/andresmejia3/veil/internal/utils"
	"github.com/spf13/cobra"
)

var blurOpts Options

var blurCmd = &cobra.Command{
	Use:   "blur",
	Short: "Blur the faces in an image",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runBlur(cmd.Context(), blurOpts)
	},
}

func init() {
	blurCmd.Flags().StringVarP(&blurOpts.InputPath, "input", "i", "", "Path to input image")
	blurCmd.Flags().StringVarP(&blurOpts.OutputPath, "output", "o", "blurred.jpg", "Path to output image (format from extension)")
	blurCmd.Flags().IntVarP(&blurOpts.Strength, "strength", "s", 10, "Blur strength: box radius in pixels, also sets the pass count")
	blurCmd.Flags().IntVarP(&blurOpts.Quality, "quality", "q", imageio.DefaultQuality, "JPEG output quality (1-100)")
	blurCmd.Flags().StringVar(&blurOpts.DebugPath, "debug", "", "Also write the unblurred image with located regions outlined to this path")
	addLocatorFlags(blurCmd, &blurOpts)

	blurCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(blurCmd)
}

func runBlur(ctx context.Context, opts Options) error {
	if err := validateBlurFlags(&opts); err != nil {
		return err
	}

	img, err := imageio.Load(opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to decode input image", err, nil)
		return err
	}

	imageID := ""
	if opts.Locator == locatorStore {
		if imageID, err = utils.GenerateImageID(opts.InputPath); err != nil {
			utils.ShowError("Failed to identify input image", err, nil)
			return err
		}
	}

	loc, cleanup, err := buildLocator(ctx, opts, 0, imageID)
	if err != nil {
		utils.ShowError("Failed to start face locator", err, nil)
		return err
	}
	defer cleanup()

	fmt.Fprintln(os.Stderr, "🔍 Locating faces...")
	regions, err := loc.Locate(ctx, img)
	if err != nil {
		utils.ShowError("Face location failed", err, processCommand(loc))
		return err
	}

	out := blurImage(img, regions, opts.Strength)
	if err := imageio.Save(opts.OutputPath, out, opts.Quality); err != nil {
		utils.ShowError("Failed to write output image", err, nil)
		return err
	}

	if opts.DebugPath != "" {
		if err := imageio.Save(opts.DebugPath, imageio.Annotate(img, regions), opts.Quality); err != nil {
			utils.ShowError("Failed to write debug image", err, nil)
			return err
		}
	}

	if len(regions) == 0 {
		fmt.Fprintf(os.Stderr, "😶 No faces detected. Wrote the image unchanged to %s\n", opts.OutputPath)
		return nil
	}
	fmt.Fprintf(os.Stderr, "✅ Blurred %d region(s) at strength %d -> %s\n", len(regions), opts.Strength, opts.OutputPath)
	return nil
}

// blurImage blurs regions on a fresh copy of img, so the decoded original can be
// re-blurred at another strength without compounding.
func blurImage(img image.Image, regions []types.Region, strength int) *image.NRGBA {
	buf := pixbuf.FromImage(img)
	blur.All(buf, regions, strength)
	return buf.Image()
}

func validateBlurFlags(opts *Options) error {
	if err := validateInputFile(opts.InputPath, "an image file"); err != nil {
		return err
	}

	// Safety Check: Prevent overwriting the input image
	inAbs, _ := filepath.Abs(opts.InputPath)
	outAbs, _ := filepath.Abs(opts.OutputPath)
	if inAbs == outAbs {
		err := fmt.Errorf("input and output paths must be different")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	if _, err := imageio.FormatFor(opts.OutputPath); err != nil {
		utils.ShowError("Unsupported output format", err, nil)
		return err
	}
	if opts.DebugPath != "" {
		if _, err := imageio.FormatFor(opts.DebugPath); err != nil {
			utils.ShowError("Unsupported debug image format", err, nil)
			return err
		}
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

	if err := validateLocatorFlags(opts); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	return nil
}

// validateInputFile checks that path exists and is a regular file.
func validateInputFile(path, expected string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			utils.ShowError("Input file does not exist", err, nil)
			return err
		}
		utils.ShowError("Unable to access input file", err, nil)
		return err
	}
	if info.IsDir() {
		err := fmt.Errorf("is a directory")
		utils.ShowError(fmt.Sprintf("Input path is a directory, expected %s", expected), err, nil)
		return err
	}
	return nil
}
