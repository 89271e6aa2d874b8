package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/gallery"
	"github.com/andresmejia3/rollcall/internal/locate"
	"github.com/andresmejia3/rollcall/internal/match"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/andresmejia3/rollcall/internal/worker"
)

var identifyOpts struct {
	Threshold float64
	Top       int
}

var identifyCmd = &cobra.Command{
	Use:   "identify <image_path>",
	Short: "Match every face in a still image against the gallery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if cmd.Flags().Changed("threshold") {
			Cfg.Thresholds.Distance = identifyOpts.Threshold
			if err := Cfg.Validate(); err != nil {
				return err
			}
		}
		if identifyOpts.Top < 1 {
			return fmt.Errorf("--top must be >= 1, got %d", identifyOpts.Top)
		}
		return runIdentify(cmd.Context(), Cfg, args[0], identifyOpts.Top, os.Stdout)
	},
}

func init() {
	identifyCmd.Flags().Float64VarP(&identifyOpts.Threshold, "threshold", "t", config.Default().Thresholds.Distance, "Accept a match when its squared distance is below this")
	identifyCmd.Flags().IntVarP(&identifyOpts.Top, "top", "k", 1, "Show the k nearest identities for each face")
	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(ctx context.Context, cfg *config.Config, imagePath string, top int, out io.Writer) error {
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}

	g, err := loadGallery(ctx, cfg)
	if err != nil {
		utils.ShowError("Failed to load gallery", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting face engine...")
	engine, err := worker.Open(ctx, cfg.Engine, cfg.Enrollment.Dim)
	if err != nil {
		utils.ShowError("Failed to start face engine", err, worker.Logs(err, nil))
		return err
	}
	defer engine.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing faces...")
	l := locate.New(engine, locate.WithDetectWidth(cfg.Engine.DetectWidth))
	faces, err := l.LocateFromPath(ctx, imagePath)
	if err != nil {
		utils.ShowError("Face processing failed", err, worker.Logs(err, engine))
		return err
	}

	return printIdentities(out, faces, match.New(g, cfg.Thresholds.Distance), top)
}

// printIdentities writes one row per face, plus up to top-1 runner-up candidates.
func printIdentities(out io.Writer, faces []types.Face, m *match.Matcher, top int) error {
	if len(faces) == 0 {
		fmt.Fprintln(out, "❌ No faces detected in the provided image.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FACE\tREGION\tIDENTITY\tDISTANCE\tCONFIDENCE")
	fmt.Fprintln(w, "----\t------\t--------\t--------\t----------")

	for i, f := range faces {
		d, err := m.Match(f.Embedding)
		if err != nil {
			return err
		}
		name := "❌ unknown"
		dist, conf := "-", "-"
		if d.Accepted {
			name = "✅ " + d.Identity
			dist = fmt.Sprintf("%.4f", d.Distance)
			conf = fmt.Sprintf("%.2f", d.Confidence())
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, f.Region, name, dist, conf)

		if top > 1 {
			if err := printCandidates(w, m.Gallery(), f.Embedding, top); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}

func printCandidates(w io.Writer, g *gallery.Gallery, emb types.Embedding, top int) error {
	ns, err := g.Index().Search(emb, top)
	if err != nil {
		return err
	}
	for rank, n := range ns {
		fmt.Fprintf(w, "\t#%d\t%s\t%.4f\t%.2f\n", rank+1, g.Identity(n.Position), n.Distance, 1-n.Distance)
	}
	return nil
}
