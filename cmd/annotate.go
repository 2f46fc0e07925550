package cmd

import (
	"context"
	"fmt"

	"github.com/andresmejia3/veil/internal/imageio"
	"github.com/andresmejia3/veil/internal/store"
	"github.com/andresmejia3/veil/internal/utils"
	"github.com/spf13/cobra"
)

var (
	annotateFile    string
	annotateReplace bool
)

var annotateCmd = &cobra.Command{
	Use:   "annotate <image_path> [x,y,w,h ...]",
	Short: "Store hand-marked face regions for an image",
	Long: "Adds manual regions to the database. They are blurred by 'blur --locator store'\n" +
		"and survive a re-scan, which only replaces detector regions.",
	Args:        cobra.MinimumNArgs(1),
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runAnnotate(cmd.Context(), args[0], args[1:])
	},
}

func init() {
	annotateCmd.Flags().StringVar(&annotateFile, "regions", "", "JSON file with regions to add")
	annotateCmd.Flags().BoolVar(&annotateReplace, "replace", false, "Drop the image's existing manual regions first")
	rootCmd.AddCommand(annotateCmd)
}

func runAnnotate(ctx context.Context, imagePath string, regionArgs []string) error {
	if err := validateInputFile(imagePath, "an image file"); err != nil {
		return err
	}

	regions, err := extraRegions(Options{RegionFlags: regionArgs, RegionsFile: annotateFile})
	if err != nil {
		utils.ShowError("Invalid region", err, nil)
		return err
	}
	if len(regions) == 0 && !annotateReplace {
		err := fmt.Errorf("no regions given")
		utils.ShowError("Nothing to annotate", err, nil)
		return err
	}

	img, err := imageio.Load(imagePath)
	if err != nil {
		utils.ShowError("Failed to decode input image", err, nil)
		return err
	}
	imageID, err := utils.GenerateImageID(imagePath)
	if err != nil {
		utils.ShowError("Failed to identify input image", err, nil)
		return err
	}

	// 1. Database is initialized in Root PersistentPreRunE
	b := img.Bounds()
	if err := DB.EnsureImageMetadata(ctx, imageID, imagePath, b.Dx(), b.Dy()); err != nil {
		utils.ShowError("Failed to register image metadata", err, nil)
		return err
	}

	// 2. Optionally start over, then append in the given order
	if annotateReplace {
		if err := DB.ClearRegions(ctx, imageID, store.SourceManual); err != nil {
			utils.ShowError("Failed to clear manual regions", err, nil)
			return err
		}
	}
	if err := DB.InsertRegions(ctx, imageID, regions, store.SourceManual); err != nil {
		utils.ShowError("Failed to store regions", err, nil)
		return err
	}

	fmt.Printf("✅ Stored %d manual region(s) for %s (ID: %s)\n", len(regions), imagePath, shortID(imageID))
	return nil
}
