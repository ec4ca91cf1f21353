package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/facelens/internal/media"
	"github.com/andresmejia3/facelens/internal/notify"
	"github.com/andresmejia3/facelens/internal/render"
	"github.com/andresmejia3/facelens/internal/session"
	"github.com/andresmejia3/facelens/internal/types"
	"github.com/andresmejia3/facelens/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var captureOpts Options

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Open the camera, take a snapshot and overlay its face analysis",
	Long: `Starts an interactive capture session.

Commands (type the letter and press Enter):
  c  capture a snapshot and submit it for analysis
  d  delete the snapshot and go back to the live camera
  s  save the current image (annotated when available)
  q  quit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runCapture(cmd.Context(), captureOpts, os.Stdin, os.Stdout)
	},
}

func init() {
	captureCmd.Flags().StringVarP(&captureOpts.InputPath, "input", "i", "", "Use a still image (PNG/JPEG) instead of the camera")
	captureCmd.Flags().StringVar(&captureOpts.MaskPath, "mask", "", "Overlay this image as a mask over the face (disabled by default)")
	rootCmd.AddCommand(captureCmd)
}

type replCommand int

const (
	cmdUnknown replCommand = iota
	cmdCapture
	cmdDelete
	cmdSave
	cmdQuit
	cmdHelp
)

func parseCommand(line string) replCommand {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "c", "capture", "snap":
		return cmdCapture
	case "d", "delete", "retake":
		return cmdDelete
	case "s", "save", "download":
		return cmdSave
	case "q", "quit", "exit":
		return cmdQuit
	case "h", "help", "?":
		return cmdHelp
	default:
		return cmdUnknown
	}
}

func runCapture(ctx context.Context, opts Options, in io.Reader, out io.Writer) error {
	source, err := captureSource(opts)
	if err != nil {
		utils.ShowError("Failed to open input image", err, nil)
		return err
	}

	renderOpts, err := renderOptions(opts)
	if err != nil {
		utils.ShowError("Failed to load mask image", err, nil)
		return err
	}

	analyzer, cleanup, err := newAnalyzer(Cfg, Log)
	if err != nil {
		utils.ShowError("Invalid analysis endpoint", err, nil)
		return err
	}
	defer cleanup()

	var sink notify.Sink = notify.NewConsole(os.Stderr)
	if Cfg.LogFile != "" {
		sink = notify.Multi{sink, notify.Log{Logger: Log}}
	}

	var sess *session.Session
	spin := &spinner{out: os.Stderr}
	sessOpts := []session.Option{
		session.WithSource(source),
		session.WithConstraints(media.Constraints{
			Device:    Cfg.CameraDevice,
			Format:    Cfg.CameraFormat,
			Width:     Cfg.CameraWidth,
			Height:    Cfg.CameraHeight,
			FrameRate: Cfg.CameraFPS,
		}),
		session.WithAnalyzer(analyzer),
		session.WithRenderOptions(renderOpts),
		session.WithNotifier(sink),
		session.WithLogger(Log),
		session.WithObserver(func(tr session.Transition) {
			if tr.To == session.Submitting {
				spin.Start()
			} else if tr.From == session.Submitting {
				spin.Stop()
			}
			describeTransition(out, tr)
			if tr.To == session.Annotated {
				if res, ok := sess.Result().(types.Success); ok && res.Details != nil {
					printDetails(out, res)
				}
			}
		}),
	}
	if DB != nil {
		sessOpts = append(sessOpts, session.WithRecorder(DB))
	}

	sess, err = session.New(sessOpts...)
	if err != nil {
		return err
	}
	defer func() {
		sess.Stop()
		sess.Wait()
		spin.Stop()
	}()

	fmt.Fprintln(os.Stderr, "📷 Starting camera...")
	if err := sess.Start(ctx); err != nil {
		// The session already told the user what went wrong.
		return err
	}
	fmt.Fprintln(out, "Type c to capture, d to delete, s to save, q to quit.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\n👋 Interrupted, closing camera.")
			return nil
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}

		switch parseCommand(line) {
		case cmdCapture:
			_, err := sess.Capture(ctx)
			switch {
			case errors.Is(err, types.ErrNotReady):
				fmt.Fprintln(out, "⏳ The camera has not delivered a frame yet, try again in a moment.")
			case errors.Is(err, types.ErrIllegalTransition):
				fmt.Fprintf(out, "⚠️  Cannot capture while %s. Delete the current snapshot first (d).\n", sess.State())
			case err != nil:
				fmt.Fprintf(out, "⚠️  Capture failed: %v\n", err)
			}
		case cmdDelete:
			if err := sess.Delete(); err != nil {
				fmt.Fprintln(out, "⚠️  Nothing to delete.")
			}
		case cmdSave:
			path, err := saveDownload(sess, Cfg.OutputDir)
			if err != nil {
				fmt.Fprintf(out, "⚠️  Nothing saved: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "💾 Saved %s\n", path)
		case cmdQuit:
			return nil
		case cmdHelp:
			fmt.Fprintln(out, "c capture | d delete | s save | q quit")
		default:
			if strings.TrimSpace(line) != "" {
				fmt.Fprintf(out, "Unknown command %q (h for help)\n", strings.TrimSpace(line))
			}
		}
	}
}

func captureSource(opts Options) (media.Source, error) {
	if opts.InputPath == "" {
		return media.NewFFmpegSource(Log), nil
	}
	return media.OpenImage(opts.InputPath)
}

func renderOptions(opts Options) (render.Options, error) {
	if opts.MaskPath == "" {
		return render.Options{}, nil
	}
	src, err := media.OpenImage(opts.MaskPath)
	if err != nil {
		return render.Options{}, err
	}
	return render.Options{Mask: src.Image}, nil
}

func describeTransition(out io.Writer, tr session.Transition) {
	switch tr.To {
	case session.Live:
		if tr.From == session.Idle {
			fmt.Fprintln(out, "🟢 Camera live.")
		} else {
			fmt.Fprintln(out, "🗑️  Snapshot discarded, camera live again.")
		}
	case session.Captured:
		fmt.Fprintln(out, "📸 Snapshot taken.")
	case session.Annotated:
		fmt.Fprintln(out, "✅ Face analyzed. Press s to save the annotated image or d to retake.")
	case session.Rejected:
		fmt.Fprintln(out, "❌ Analysis did not succeed. Press s to save the raw snapshot or d to retake.")
	}
}

// saveDownload writes the session's downloadable image into dir.
func saveDownload(sess *session.Session, dir string) (string, error) {
	data, err := sess.Download()
	if err != nil {
		return "", err
	}
	snap := sess.Snapshot()
	if snap == nil {
		return "", types.ErrIllegalTransition
	}
	name := snap.FileName()
	if ann := sess.Annotated(); ann != nil && ann.SnapshotID == snap.ID() && bytes.Equal(ann.Encoded, data) {
		name = strings.TrimSuffix(name, ".png") + "_annotated.png"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// spinner shows an indeterminate progress bar while a request is in flight.
type spinner struct {
	out  io.Writer
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func (s *spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("🔍 Analyzing face"),
		progressbar.OptionSetWriter(s.out),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
	stop, done := make(chan struct{}), make(chan struct{})
	s.stop, s.done = stop, done
	go func() {
		defer close(done)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				bar.Finish()
				return
			case <-ticker.C:
				bar.Add(1)
			}
		}
	}()
}

func (s *spinner) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}
