package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pixland/pixops/internal/types"
	"github.com/pixland/pixops/internal/utils"
)

var inspectLimit int

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the stored face descriptors of the first few images",
	Run: func(cmd *cobra.Command, args []string) {
		runInspect(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().IntVar(&inspectLimit, "limit", 10, "Number of images to show")
}

func runInspect(ctx context.Context) {
	db := openDB(ctx)
	images, err := db.SampleImages(ctx, inspectLimit)
	if err != nil {
		utils.Die("Failed to read images", err)
	}
	printImages(os.Stdout, db.Name(), images)
}

func printImages(out io.Writer, source string, images []types.Image) {
	if len(images) == 0 {
		fmt.Fprintf(out, "No images found in %s.\n", source)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	// INDEXED is the flag stored on the first face; CURRENT is whether every face
	// already carries a 512-d descriptor, i.e. whether reindex would skip the image.
	fmt.Fprintln(w, "ID\tSTATUS\tFACES\tDIM\tMAGNITUDE\tINDEXED\tCURRENT\tURL")
	fmt.Fprintln(w, "--\t------\t-----\t---\t---------\t-------\t-------\t---")

	for _, img := range images {
		faces := img.Metadata.DetectedFaces
		dim, magnitude, indexed := 0, "-", "-"
		if len(faces) > 0 {
			dim = len(faces[0].Descriptor)
			if dim > 0 {
				magnitude = fmt.Sprintf("%.4f", utils.VectorNorm(faces[0].Descriptor))
			}
			indexed = fmt.Sprintf("%t", faces[0].Indexed)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%t\t%s\n",
			img.ID, img.Status, len(faces), dim, magnitude, indexed,
			img.Indexed(types.DescriptorDim), utils.Tail(img.URL, 50))
	}
	w.Flush()
}
