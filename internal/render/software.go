// Package render captures the simulated user's view as an encoded image.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sort"

	"simuser.ai/internal/mathx"
	"simuser.ai/internal/protocol"
	"simuser.ai/internal/scene"
)

// Options mirrors the camera setup of the simulated user.
type Options struct {
	Width  int     `yaml:"width" env:"WIDTH"`
	Height int     `yaml:"height" env:"HEIGHT"`
	FOV    float64 `yaml:"fov_degrees" env:"FOV"`
	Near   float64 `yaml:"near"`
	Far    float64 `yaml:"far"`
}

func DefaultOptions() Options {
	return Options{Width: 120, Height: 80, FOV: 90, Near: 0.01, Far: 10}
}

func (o Options) Validate() error {
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("render: invalid frame size %dx%d", o.Width, o.Height)
	}
	if o.FOV <= 0 || o.FOV >= 180 {
		return fmt.Errorf("render: fov must be in (0,180), got %v", o.FOV)
	}
	if o.Near <= 0 || o.Far <= o.Near {
		return fmt.Errorf("render: invalid clip planes near=%v far=%v", o.Near, o.Far)
	}
	return nil
}

var (
	skyColor    = color.NRGBA{R: 170, G: 200, B: 235, A: 0}
	groundColor = color.NRGBA{R: 95, G: 90, B: 80, A: 0}
)

// Software renders markers as depth-shaded discs seen from the rig camera.
// The alpha channel carries depth: 255 at the near plane down to 1 at the far
// plane, 0 where nothing was hit.
type Software struct {
	opts   Options
	rig    *scene.Rig
	source scene.MarkerSource

	img *image.NRGBA
	buf bytes.Buffer
	enc png.Encoder
}

func NewSoftware(opts Options, rig *scene.Rig, source scene.MarkerSource) (*Software, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if rig == nil || source == nil {
		return nil, fmt.Errorf("render: rig and marker source are required")
	}
	return &Software{
		opts:   opts,
		rig:    rig,
		source: source,
		img:    image.NewNRGBA(image.Rect(0, 0, opts.Width, opts.Height)),
		enc:    png.Encoder{CompressionLevel: png.BestSpeed},
	}, nil
}

type projected struct {
	x, y  float64
	r     float64
	depth float64
	c     color.NRGBA
}

// Capture renders the current frame and returns it PNG-encoded. The returned
// slice is owned by the caller.
func (s *Software) Capture() ([]byte, error) {
	s.clear()

	cam := s.rig.Camera
	inv := cam.Rotation.Normalize().Conjugate()
	w, h := float64(s.opts.Width), float64(s.opts.Height)
	focal := (h / 2) / math.Tan(s.opts.FOV*math.Pi/360)

	markers := s.source.Markers()
	discs := make([]projected, 0, len(markers))
	for _, m := range markers {
		local := inv.Rotate(m.Position.Sub(cam.Position))
		z := float64(local[2])
		if z < s.opts.Near || z > s.opts.Far {
			continue
		}
		discs = append(discs, projected{
			x:     w/2 + focal*float64(local[0])/z,
			y:     h/2 - focal*float64(local[1])/z,
			r:     math.Max(focal*float64(m.Radius)/z, 0.5),
			depth: z,
			c:     m.Color,
		})
	}
	// Far to near so closer discs overwrite.
	sort.Slice(discs, func(i, j int) bool { return discs[i].depth > discs[j].depth })
	for _, d := range discs {
		s.fillDisc(d)
	}

	s.buf.Reset()
	if err := s.enc.Encode(&s.buf, s.img); err != nil {
		return nil, protocol.NewError(protocol.ErrCodeCapture, "encode png", err)
	}
	if s.buf.Len() == 0 {
		return nil, protocol.Errorf(protocol.ErrCodeCapture, "encode png", "empty frame")
	}
	return bytes.Clone(s.buf.Bytes()), nil
}

func (s *Software) clear() {
	b := s.img.Bounds()
	horizon := b.Dy() / 2
	for y := b.Min.Y; y < b.Max.Y; y++ {
		c := skyColor
		if y >= horizon {
			c = groundColor
		}
		for x := b.Min.X; x < b.Max.X; x++ {
			s.img.SetNRGBA(x, y, c)
		}
	}
}

func (s *Software) fillDisc(d projected) {
	b := s.img.Bounds()
	x0 := max(int(math.Floor(d.x-d.r)), b.Min.X)
	x1 := min(int(math.Ceil(d.x+d.r)), b.Max.X-1)
	y0 := max(int(math.Floor(d.y-d.r)), b.Min.Y)
	y1 := min(int(math.Ceil(d.y+d.r)), b.Max.Y-1)
	if x0 > x1 || y0 > y1 {
		return
	}
	c := d.c
	c.A = s.depthAlpha(d.depth)
	r2 := d.r * d.r
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			dx := float64(x) + 0.5 - d.x
			dy := float64(y) + 0.5 - d.y
			if dx*dx+dy*dy <= r2 {
				s.img.SetNRGBA(x, y, c)
			}
		}
	}
}

func (s *Software) depthAlpha(z float64) uint8 {
	t := (z - s.opts.Near) / (s.opts.Far - s.opts.Near)
	return uint8(1 + math.Round(254*(1-mathx.Clamp(t, 0, 1))))
}
