package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/andresmejia3/veil/internal/imageio"
	"github.com/andresmejia3/veil/internal/types"
	"github.com/andresmejia3/veil/internal/utils"
	"github.com/spf13/cobra"
)

var detectOpts Options

var detectCmd = &cobra.Command{
	Use:   "detect <image_path>",
	Short: "Print the face regions located in an image as JSON",
	Long: "Runs the selected locator and prints the regions that blur would use.\n" +
		"The output can be edited and fed back with 'blur --locator static --regions'.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runDetect(cmd.Context(), args[0], detectOpts)
	},
}

func init() {
	addLocatorFlags(detectCmd, &detectOpts)
	rootCmd.AddCommand(detectCmd)
}

func runDetect(ctx context.Context, imagePath string, opts Options) error {
	if err := validateInputFile(imagePath, "an image file"); err != nil {
		return err
	}
	if err := validateLocatorFlags(&opts); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	img, err := imageio.Load(imagePath)
	if err != nil {
		utils.ShowError("Failed to decode input image", err, nil)
		return err
	}

	imageID := ""
	if opts.Locator == locatorStore {
		if imageID, err = utils.GenerateImageID(imagePath); err != nil {
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

	regions, err := loc.Locate(ctx, img)
	if err != nil {
		utils.ShowError("Face location failed", err, processCommand(loc))
		return err
	}
	if regions == nil {
		// Print [] rather than null so the output is a valid regions file.
		regions = []types.Region{}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(regions); err != nil {
		return fmt.Errorf("failed to write regions: %w", err)
	}
	fmt.Fprintf(os.Stderr, "🔍 %d region(s) located in %s\n", len(regions), imagePath)
	return nil
}
