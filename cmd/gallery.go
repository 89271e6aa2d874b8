package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/gallery"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Inspect and manage the enrolled identities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runGalleryList(cmd.Context(), Cfg, os.Stdout)
	},
}

var galleryValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the gallery and report the first bad record, if any",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runGalleryValidate(cmd.Context(), Cfg, os.Stdout)
	},
}

var galleryPushCmd = &cobra.Command{
	Use:   "push [dir]",
	Short: "Copy an enrollment directory into PostgreSQL",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		dir := Cfg.Enrollment.Dir
		if len(args) == 1 {
			dir = args[0]
		}
		return runGalleryPush(cmd.Context(), Cfg, dir)
	},
}

var galleryRemoveCmd = &cobra.Command{
	Use:   "remove <identity>",
	Short: "Remove an identity from the PostgreSQL gallery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runGalleryRemove(cmd.Context(), Cfg, args[0])
	},
}

func init() {
	galleryCmd.AddCommand(galleryValidateCmd, galleryPushCmd, galleryRemoveCmd)
	rootCmd.AddCommand(galleryCmd)
}

// galleryOptions maps the config onto gallery build options.
func galleryOptions(cfg *config.Config) gallery.Options {
	return gallery.Options{
		Dim:        cfg.Enrollment.Dim,
		AllowEmpty: cfg.Enrollment.AllowEmpty,
		Kind:       gallery.IndexKind(cfg.Index.Kind),
		M:          cfg.Index.M,
		EfSearch:   cfg.Index.EfSearch,
	}
}

// enrollmentSource returns the configured gallery source. The returned store
// is non-nil when the source is PostgreSQL and must be closed by the caller.
func enrollmentSource(ctx context.Context, cfg *config.Config) (gallery.Source, *store.Store, error) {
	switch cfg.Enrollment.Source {
	case "postgres":
		s, err := openStore(ctx, cfg, true)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return gallery.DirSource{Dir: cfg.Enrollment.Dir}, nil, nil
	}
}

func loadGallery(ctx context.Context, cfg *config.Config) (*gallery.Gallery, error) {
	src, s, err := enrollmentSource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer closeStore(s)
	return gallery.Load(ctx, src, galleryOptions(cfg))
}

func runGalleryList(ctx context.Context, cfg *config.Config, out io.Writer) error {
	g, err := loadGallery(ctx, cfg)
	if err != nil {
		utils.ShowError("Failed to load gallery", err, nil)
		return err
	}
	printGallery(out, g)
	return nil
}

func printGallery(out io.Writer, g *gallery.Gallery) {
	if g.Len() == 0 {
		fmt.Fprintln(out, "No identities enrolled.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tIDENTITY")
	fmt.Fprintln(w, "-\t--------")
	for i, id := range g.Identities() {
		fmt.Fprintf(w, "%d\t%s\n", i, id)
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d identities, %d-d embeddings\n", g.Len(), g.Dim())
}

func runGalleryValidate(ctx context.Context, cfg *config.Config, out io.Writer) error {
	g, err := loadGallery(ctx, cfg)
	if err != nil {
		var le *gallery.LoadError
		if errors.As(err, &le) && le.Entry != "" {
			fmt.Fprintf(out, "❌ %s: %v\n", le.Entry, le.Err)
		} else {
			fmt.Fprintf(out, "❌ %v\n", err)
		}
		return err
	}
	fmt.Fprintf(out, "✅ Gallery OK: %d identities, %d-d embeddings\n", g.Len(), g.Dim())
	return nil
}

// enroller is the part of the store gallery push writes to.
type enroller interface {
	Enroll(ctx context.Context, identity string, emb types.Embedding) error
}

func runGalleryPush(ctx context.Context, cfg *config.Config, dir string) error {
	records, err := gallery.DirSource{Dir: dir}.Records(ctx)
	if err == nil {
		// Validate the whole directory before writing anything.
		_, err = gallery.Build(records, gallery.Options{Dim: cfg.Enrollment.Dim})
	}
	if err != nil {
		utils.ShowError("Enrollment directory is not valid", err, nil)
		return err
	}

	s, err := openStore(ctx, cfg, true)
	if err != nil {
		utils.ShowError("Database unavailable", err, nil)
		return err
	}
	defer closeStore(s)

	bar := progressbar.NewOptions(len(records),
		progressbar.OptionSetDescription("📤 Pushing gallery"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	n, err := pushRecords(ctx, s, records, func() { bar.Add(1) })
	bar.Finish()
	if err != nil {
		utils.ShowError("Gallery push failed", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "\n✅ Pushed %d identities from %s\n", n, dir)
	return nil
}

func pushRecords(ctx context.Context, e enroller, records []gallery.Record, tick func()) (int, error) {
	for i, r := range records {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := e.Enroll(ctx, r.Identity, r.Embedding); err != nil {
			return i, err
		}
		tick()
	}
	return len(records), nil
}

func runGalleryRemove(ctx context.Context, cfg *config.Config, identity string) error {
	s, err := openStore(ctx, cfg, true)
	if err != nil {
		utils.ShowError("Database unavailable", err, nil)
		return err
	}
	defer closeStore(s)

	removed, err := s.Unenroll(ctx, identity)
	if err != nil {
		utils.ShowError("Failed to remove identity", err, nil)
		return err
	}
	if !removed {
		return fmt.Errorf("identity %q is not enrolled", identity)
	}
	fmt.Printf("🗑️  Removed %s\n", identity)
	return nil
}
