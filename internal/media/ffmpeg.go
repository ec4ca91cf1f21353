package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/andresmejia3/facelens/internal/types"
	"github.com/andresmejia3/facelens/internal/utils"
	"github.com/sirupsen/logrus"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

const (
	defaultWidth     = 640
	defaultHeight    = 480
	defaultFrameRate = 30
)

// FFmpegSource opens camera devices through an ffmpeg child process that
// decodes the device to raw RGBA frames on its stdout.
type FFmpegSource struct {
	// Binary is the ffmpeg executable, "ffmpeg" when empty.
	Binary string
	// StartupGrace is how long Acquire waits for the first frame before handing
	// the stream out anyway. A process that dies within it is reported as unavailable.
	StartupGrace time.Duration
	Log          *logrus.Logger

	mu     sync.Mutex
	active *ffmpegStream
}

func NewFFmpegSource(log *logrus.Logger) *FFmpegSource {
	return &FFmpegSource{Binary: "ffmpeg", StartupGrace: 3 * time.Second, Log: log}
}

// Acquire starts ffmpeg for the requested device. Any stream this source handed
// out before is released first.
func (s *FFmpegSource) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	bin := s.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found in PATH", types.ErrUnsupportedEnvironment, bin)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		s.active.Close()
		s.active = nil
	}

	c = withDefaults(c)
	cmd := buildCommand(path, c)
	safe := utils.WrapCommand(cmd)

	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create ffmpeg stdout pipe: %v", types.ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", types.ErrDeviceUnavailable, err)
	}

	st := &ffmpegStream{
		cmd:   safe,
		out:   out,
		first: make(chan struct{}),
		done:  make(chan struct{}),
	}
	go st.readLoop(c.Width, c.Height)

	if s.Log != nil {
		s.Log.WithFields(logrus.Fields{
			"device": c.Device,
			"format": c.Format,
			"size":   fmt.Sprintf("%dx%d", c.Width, c.Height),
		}).Info("camera stream starting")
	}

	grace := s.StartupGrace
	if grace <= 0 {
		grace = 3 * time.Second
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-st.first:
	case <-timer.C:
		// Still running without a frame. Hand it out; captures report NotReady until frames flow.
	case <-st.done:
		return nil, fmt.Errorf("%w: ffmpeg exited: %v: %s", types.ErrDeviceUnavailable, st.readErr(), safe.Logs())
	case <-ctx.Done():
		st.Close()
		return nil, ctx.Err()
	}

	s.active = st
	return st, nil
}

func withDefaults(c Constraints) Constraints {
	if c.Width <= 0 || c.Height <= 0 {
		c.Width, c.Height = defaultWidth, defaultHeight
	}
	if c.FrameRate <= 0 {
		c.FrameRate = defaultFrameRate
	}
	return c
}

// buildCommand compiles `ffmpeg -f <fmt> -framerate <fps> -video_size WxH -i <device>
// -f rawvideo -pix_fmt rgba -s WxH pipe:1`.
func buildCommand(bin string, c Constraints) *exec.Cmd {
	size := fmt.Sprintf("%dx%d", c.Width, c.Height)
	in := ffmpeg.KwArgs{
		"framerate":  strconv.Itoa(c.FrameRate),
		"video_size": size,
	}
	if c.Format != "" {
		in["f"] = c.Format
	}

	cmd := ffmpeg.Input(c.Device, in).
		Output("pipe:1", ffmpeg.KwArgs{
			"format":   "rawvideo",
			"pix_fmt":  "rgba",
			"s":        size,
			"loglevel": "error",
		}).
		Compile()
	// bin was already resolved by Acquire; drop any lookup error for the default name.
	cmd.Path = bin
	cmd.Err = nil
	return cmd
}

type ffmpegStream struct {
	frameBuffer

	cmd       *utils.SafeCommand
	out       io.ReadCloser
	first     chan struct{}
	firstOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func (st *ffmpegStream) readLoop(width, height int) {
	defer close(st.done)

	back := image.NewRGBA(image.Rect(0, 0, width, height))
	for {
		if _, err := io.ReadFull(st.out, back.Pix); err != nil {
			if !errors.Is(err, io.EOF) {
				st.setErr(err)
			}
			break
		}
		back = st.publish(back)
		st.firstOnce.Do(func() { close(st.first) })
	}

	// Wait only after all reads are done, as required by StdoutPipe.
	if err := st.cmd.Wait(); err != nil && !st.isClosed() {
		st.setErr(err)
	}
}

func (st *ffmpegStream) setErr(err error) {
	st.errMu.Lock()
	if st.err == nil {
		st.err = err
	}
	st.errMu.Unlock()
}

func (st *ffmpegStream) readErr() error {
	st.errMu.Lock()
	defer st.errMu.Unlock()
	if st.err == nil {
		return io.ErrUnexpectedEOF
	}
	return st.err
}

func (st *ffmpegStream) Active() bool {
	select {
	case <-st.done:
		return false
	default:
		return !st.isClosed()
	}
}

// Close stops ffmpeg and waits for the reader to drain.
func (st *ffmpegStream) Close() error {
	st.closeOnce.Do(func() {
		st.markClosed()
		if st.cmd.Process != nil {
			_ = st.cmd.Process.Kill()
		}
		<-st.done
	})
	return nil
}
