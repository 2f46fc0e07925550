package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/veil/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:         "list",
	Short:       "List all indexed images in the database",
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		images, err := DB.ListImages(cmd.Context())
		if err != nil {
			utils.ShowError("Failed to list images", err, nil)
			return err
		}

		if len(images) == 0 {
			fmt.Println("No images found in database.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tPATH\tSIZE\tREGIONS\tINDEXED")
		fmt.Fprintln(w, "--\t----\t----\t-------\t-------")

		for _, im := range images {
			fmt.Fprintf(w, "%s\t%s\t%dx%d\t%d\t%s\n",
				shortID(im.ID), im.Path, im.Width, im.Height, im.Regions,
				im.IndexedAt.Local().Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
