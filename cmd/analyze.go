package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/facelens/internal/media"
	"github.com/andresmejia3/facelens/internal/render"
	"github.com/andresmejia3/facelens/internal/snapshot"
	"github.com/andresmejia3/facelens/internal/types"
	"github.com/andresmejia3/facelens/internal/utils"
	"github.com/spf13/cobra"
)

var analyzeOpts Options

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image_path>",
	Short: "Analyze a still image and write the annotated result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		analyzeOpts.InputPath = args[0]
		return runAnalyze(cmd.Context(), analyzeOpts, os.Stdout)
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOpts.OutputPath, "output", "o", "", "Where to write the overlay (.png or .svg, default: <output-dir>/<name>_annotated.png)")
	analyzeCmd.Flags().StringVar(&analyzeOpts.MaskPath, "mask", "", "Overlay this image as a mask over the face (disabled by default)")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(ctx context.Context, opts Options, out io.Writer) error {
	src, err := media.OpenImage(opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to open input image", err, nil)
		return err
	}
	renderOpts, err := renderOptions(opts)
	if err != nil {
		utils.ShowError("Failed to load mask image", err, nil)
		return err
	}

	snap, err := snapshot.FromImage(src.Image)
	if err != nil {
		utils.ShowError("Failed to encode snapshot", err, nil)
		return err
	}

	analyzer, cleanup, err := newAnalyzer(Cfg, Log)
	if err != nil {
		utils.ShowError("Invalid analysis endpoint", err, nil)
		return err
	}
	defer cleanup()

	fmt.Fprintf(os.Stderr, "🔍 Analyzing %s...\n", filepath.Base(opts.InputPath))
	res := analyzer.Analyze(ctx, snap)

	switch r := res.(type) {
	case types.Rejected:
		record(ctx, types.NewAnalysisRecord(snap, r, r.Reason))
		fmt.Fprintf(out, "❌ %s\n", r.Reason)
		return nil
	case types.TransportError:
		record(ctx, types.NewAnalysisRecord(snap, r, "Face analysis failed: "+r.Error()))
		utils.ShowError("Face analysis failed", r, nil)
		return r
	case types.Success:
		path := opts.OutputPath
		if path == "" {
			path = filepath.Join(Cfg.OutputDir, annotatedName(opts.InputPath))
		}
		if err := writeOverlay(path, snap, r.Details, renderOpts); err != nil {
			if errors.Is(err, types.ErrMalformedResult) {
				record(ctx, types.NewAnalysisRecord(snap, r, err.Error()))
			}
			utils.ShowError("Failed to render overlay", err, nil)
			return err
		}
		record(ctx, types.NewAnalysisRecord(snap, r, ""))
		printDetails(out, r)
		fmt.Fprintf(out, "💾 Saved %s\n", path)
		return nil
	default:
		return fmt.Errorf("unexpected analysis result %T", res)
	}
}

// annotatedName maps photo.jpg to photo_annotated.png.
func annotatedName(input string) string {
	base := filepath.Base(input)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_annotated.png"
}

func newSurface(path string, w, h int) render.Surface {
	if strings.EqualFold(filepath.Ext(path), ".svg") {
		return render.NewSVGSurface(w, h)
	}
	return render.NewRGBASurface(w, h)
}

func writeOverlay(path string, snap *types.Snapshot, d *types.FaceDetails, opts render.Options) error {
	return writeSurface(path, newSurface(path, snap.Width(), snap.Height()), snap, d, opts)
}

// writeSurface never leaves a partial file at path.
func writeSurface(path string, surface render.Surface, snap *types.Snapshot, d *types.FaceDetails, opts render.Options) error {
	if err := render.Render(surface, snap, d, opts); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := surface.Encode(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

func printDetails(out io.Writer, s types.Success) {
	d := s.Details
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "FACES\t%d\n", s.FacesCount)
	if s.Elapsed != "" {
		fmt.Fprintf(w, "ELAPSED\t%s\n", s.Elapsed)
	}
	b := d.BoundingBox
	fmt.Fprintf(w, "BOX\t%.0f,%.0f %.0fx%.0f\n", b.Left, b.Top, b.Width, b.Height)
	fmt.Fprintf(w, "PITCH\t%.1f°\n", d.Pose.Pitch.Degrees)
	fmt.Fprintf(w, "ROLL\t%.1f°\n", d.Pose.Roll.Degrees)
	fmt.Fprintf(w, "YAW\t%.1f°\n", d.Pose.Yaw.Degrees)
	if d.EyeDistance > 0 {
		fmt.Fprintf(w, "EYE DISTANCE\t%.1fpx\n", d.EyeDistance)
	}
	if m := d.MouthOpen; m != nil {
		fmt.Fprintf(w, "MOUTH OPEN\t%t (%.2f)\n", m.Status, m.Score)
	}
	if e := d.EyesClosed; e != nil && e.Status != "" {
		fmt.Fprintf(w, "EYES\t%s\n", e.Status)
	}
	w.Flush()
}

// record stores a history entry when a database is configured. Failures only warn.
func record(ctx context.Context, rec types.AnalysisRecord) {
	if DB == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := DB.RecordAnalysis(ctx, rec); err != nil {
		Log.WithError(err).Warn("failed to record analysis")
	}
}
