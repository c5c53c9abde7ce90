// Package vision tracks a red object in camera frames and reports its
// offset from the frame centre as a vision-mode payload.
package vision

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-armctl/internal/log"
	"github.com/teslashibe/go-armctl/pkg/input"
)

const windowName = "armctl vision"

// Config holds camera and detector settings.
type Config struct {
	Camera  int  // Capture device index
	Width   int  // Requested frame width
	Height  int  // Requested frame height
	Preview bool // Show an annotated preview window; 'q' in it stops the run

	MinArea float64 // Contours smaller than this (px²) are noise
}

// DefaultConfig returns camera 0 at 640x480 with preview on.
func DefaultConfig() Config {
	return Config{
		Camera:  0,
		Width:   640,
		Height:  480,
		Preview: true,
		MinArea: 300,
	}
}

// Red wraps around hue 0, so two HSV bands are combined.
var (
	redLow1  = gocv.NewScalar(0, 120, 70, 0)
	redHigh1 = gocv.NewScalar(10, 255, 255, 0)
	redLow2  = gocv.NewScalar(170, 120, 70, 0)
	redHigh2 = gocv.NewScalar(180, 255, 255, 0)
)

var (
	boxColor    = color.RGBA{G: 255, A: 255}
	centreColor = color.RGBA{B: 255, A: 255}
	crossColor  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Source captures frames and yields input.Offset payloads. When no object
// is found it yields a zero offset so the arm holds the base pose; a failed
// frame read is an empty tick.
type Source struct {
	cfg    Config
	cap    *gocv.VideoCapture
	window *gocv.Window
	log    *slog.Logger

	frame, hsv, mask1, mask2, mask gocv.Mat

	running   bool
	closeOnce sync.Once
}

// New opens the camera. Failing to open it is a construction error.
func New(cfg Config) (*Source, error) {
	vc, err := gocv.OpenVideoCapture(cfg.Camera)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", cfg.Camera, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("camera %d did not open", cfg.Camera)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))

	s := newSource(cfg)
	s.cap = vc
	if cfg.Preview {
		s.window = gocv.NewWindow(windowName)
	}
	return s, nil
}

// newSource allocates the frame buffers without opening a device.
func newSource(cfg Config) *Source {
	return &Source{
		cfg:     cfg,
		log:     log.Component("input.vision").With("camera", cfg.Camera),
		frame:   gocv.NewMat(),
		hsv:     gocv.NewMat(),
		mask1:   gocv.NewMat(),
		mask2:   gocv.NewMat(),
		mask:    gocv.NewMat(),
		running: true,
	}
}

// Next grabs one frame and locates the largest red blob.
func (s *Source) Next(ctx context.Context) (input.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.running {
		return nil, io.EOF
	}

	if ok := s.cap.Read(&s.frame); !ok || s.frame.Empty() {
		return nil, nil
	}

	off := s.offset()

	if s.window != nil {
		w, h := s.frame.Cols(), s.frame.Rows()
		gocv.Line(&s.frame, image.Pt(w/2, 0), image.Pt(w/2, h), crossColor, 1)
		gocv.Line(&s.frame, image.Pt(0, h/2), image.Pt(w, h/2), crossColor, 1)
		s.window.IMShow(s.frame)
		if key := s.window.WaitKey(1); key&0xFF == 'q' {
			s.running = false
			return nil, io.EOF
		}
	}

	return off, nil
}

// offset locates the object in the current frame. No object is a zero
// offset.
func (s *Source) offset() input.Offset {
	centre, found := s.detect()
	if !found {
		return input.Offset{}
	}
	w, h := s.frame.Cols(), s.frame.Rows()
	return input.NormalizeOffset(float64(centre.X), float64(centre.Y), float64(w), float64(h))
}

// detect thresholds the current frame and returns the centre of the largest
// contour above MinArea, drawing it on the preview when enabled.
func (s *Source) detect() (image.Point, bool) {
	gocv.CvtColor(s.frame, &s.hsv, gocv.ColorBGRToHSV)
	gocv.InRangeWithScalar(s.hsv, redLow1, redHigh1, &s.mask1)
	gocv.InRangeWithScalar(s.hsv, redLow2, redHigh2, &s.mask2)
	gocv.BitwiseOr(s.mask1, s.mask2, &s.mask)
	gocv.MedianBlur(s.mask, &s.mask, 5)

	contours := gocv.FindContours(s.mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	best, bestArea := -1, 0.0
	for i := 0; i < contours.Size(); i++ {
		if a := gocv.ContourArea(contours.At(i)); a > bestArea {
			best, bestArea = i, a
		}
	}
	if best < 0 || bestArea <= s.cfg.MinArea {
		return image.Point{}, false
	}

	rect := gocv.BoundingRect(contours.At(best))
	centre := image.Pt(rect.Min.X+rect.Dx()/2, rect.Min.Y+rect.Dy()/2)

	if s.window != nil {
		gocv.Rectangle(&s.frame, rect, boxColor, 2)
		gocv.Circle(&s.frame, centre, 5, centreColor, -1)
	}
	return centre, true
}

// Close releases the camera, window, and frame buffers.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.running = false
		if s.cap != nil {
			if err := s.cap.Close(); err != nil {
				s.log.Warn("camera close failed", "error", err)
			}
		}
		if s.window != nil {
			if err := s.window.Close(); err != nil {
				s.log.Warn("window close failed", "error", err)
			}
		}
		for _, m := range []*gocv.Mat{&s.frame, &s.hsv, &s.mask1, &s.mask2, &s.mask} {
			m.Close()
		}
	})
	return nil
}

var _ input.Source = (*Source)(nil)
