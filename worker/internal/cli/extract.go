package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spheroseg/segpipeline/core/contour"
)

type extractResult struct {
	Mask     string            `json:"mask"`
	Width    int               `json:"width"`
	Height   int               `json:"height"`
	External int               `json:"external"`
	Internal int               `json:"internal"`
	Polygons []contour.Polygon `json:"polygons"`
}

func newExtractCmd() *cobra.Command {
	var (
		minArea  float64
		cutoff   uint8
		simplify float64
		clean    bool
		format   string
	)

	cmd := &cobra.Command{
		Use:   "extract <mask.png>",
		Short: "Extract the polygon hierarchy from a mask image",
		Example: `  segctl extract mask.png
  segctl extract --min-area 50 --cutoff 100 --format yaml mask.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mask, err := contour.LoadFile(args[0])
			if err != nil {
				return fmt.Errorf("load mask: %w", err)
			}

			polygons := contour.NewExtractor(contour.Options{
				MinArea:         minArea,
				Cutoff:          cutoff,
				Clean:           clean,
				SimplifyEpsilon: simplify,
			}).Extract(mask)

			ext, in := contour.Counts(polygons)
			b := mask.Bounds()
			return encode(cmd.OutOrStdout(), format, extractResult{
				Mask:     args[0],
				Width:    b.Dx(),
				Height:   b.Dy(),
				External: ext,
				Internal: in,
				Polygons: polygons,
			})
		},
	}

	cmd.Flags().Float64Var(&minArea, "min-area", contour.DefaultMinArea, "minimum external polygon area in pixels")
	cmd.Flags().Uint8Var(&cutoff, "cutoff", contour.DefaultCutoff, "binarization threshold, values above it are foreground")
	cmd.Flags().Float64Var(&simplify, "simplify", 0, "simplification tolerance in percent of perimeter")
	cmd.Flags().BoolVar(&clean, "clean", false, "apply morphological opening and closing first")
	cmd.Flags().StringVarP(&format, "format", "f", formatJSON, "output format: json or yaml")
	return cmd
}
