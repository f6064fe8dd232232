package processor

import (
	"fmt"
	"time"

	"github.com/geolens/pansharp/common"
	"golang.org/x/sync/errgroup"
)

// Weights are the spectral weights of the synthetic low-resolution pan band
type Weights struct {
	R float64
	G float64
	B float64
}

// SharpenConfig names the input bands and the fusion parameters
type SharpenConfig struct {
	Red   string
	Green string
	Blue  string
	Pan   string

	Weights Weights
	// Scale divides the color bands before fusion (e.g. 10000 for L2A reflectances)
	Scale float64
}

func (c SharpenConfig) Validate() error {
	if c.Red == "" || c.Green == "" || c.Blue == "" || c.Pan == "" {
		return fmt.Errorf("SharpenConfig: red, green, blue and pan band names are required")
	}
	if c.Weights.R+c.Weights.G+c.Weights.B <= 0 {
		return fmt.Errorf("SharpenConfig: the sum of the weights must be strictly positive")
	}
	if c.Scale <= 0 {
		return fmt.Errorf("SharpenConfig: scale must be strictly positive, got %g", c.Scale)
	}
	return nil
}

// ErrGridMismatch is a fusion error on one scene: a band is missing or its
// grid does not match the others.
type ErrGridMismatch struct {
	Timestamp time.Time
	Band      string
	Detail    string
}

func (e ErrGridMismatch) Error() string {
	return fmt.Sprintf("scene %s, band %s: %s", e.Timestamp.Format("2006-01-02"), e.Band, e.Detail)
}

// Sharpen fuses the color bands of every scene with the panchromatic band.
// Per pixel, the color values are divided by Scale, a synthetic pan is
// computed as the weighted average of the three colors and each color is
// multiplied by the ratio of the measured pan over the synthetic one. The
// result is a new stack with the three sharpened bands, the input stack is
// left untouched. A non-positive synthetic pan or any nodata input yields a
// nodata output pixel.
func Sharpen(stack *common.RasterStack, cfg SharpenConfig) (*common.RasterStack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	scenes := make([]*common.Scene, len(stack.Scenes))
	wg := errgroup.Group{}
	for i, scene := range stack.Scenes {
		wg.Go(func() error {
			sharpened, err := sharpenScene(scene, cfg)
			if err != nil {
				return err
			}
			scenes[i] = sharpened
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return nil, fmt.Errorf("Sharpen.%w", err)
	}

	nodata := map[string]float64{
		cfg.Red:   nodataOf(stack, cfg.Red),
		cfg.Green: nodataOf(stack, cfg.Green),
		cfg.Blue:  nodataOf(stack, cfg.Blue),
	}
	return &common.RasterStack{Scenes: scenes, CRS: stack.CRS, Transform: stack.Transform, NoData: nodata}, nil
}

func nodataOf(stack *common.RasterStack, band string) float64 {
	if nd, ok := stack.NoData[band]; ok {
		return nd
	}
	return 0
}

func sharpenScene(scene *common.Scene, cfg SharpenConfig) (*common.Scene, error) {
	grids := make(map[string]*common.Grid, 4)
	for _, name := range []string{cfg.Red, cfg.Green, cfg.Blue, cfg.Pan} {
		g, ok := scene.Bands[name]
		if !ok {
			return nil, ErrGridMismatch{Timestamp: scene.Timestamp, Band: name, Detail: "band not loaded"}
		}
		if !g.SameShape(scene.Bands[cfg.Pan]) {
			return nil, ErrGridMismatch{Timestamp: scene.Timestamp, Band: name,
				Detail: fmt.Sprintf("%dx%d does not match the pan grid %dx%d", g.Width, g.Height, scene.Bands[cfg.Pan].Width, scene.Bands[cfg.Pan].Height)}
		}
		grids[name] = g
	}

	r, g, b, pan := grids[cfg.Red], grids[cfg.Green], grids[cfg.Blue], grids[cfg.Pan]
	outR := common.NewGrid(r.Width, r.Height, r.NoData)
	outG := common.NewGrid(g.Width, g.Height, g.NoData)
	outB := common.NewGrid(b.Width, b.Height, b.NoData)

	wsum := cfg.Weights.R + cfg.Weights.G + cfg.Weights.B
	for i := range pan.Data {
		vr, vg, vb, vp := r.Data[i], g.Data[i], b.Data[i], pan.Data[i]
		if vr == r.NoData || vg == g.NoData || vb == b.NoData || vp == pan.NoData {
			outR.Data[i], outG.Data[i], outB.Data[i] = r.NoData, g.NoData, b.NoData
			continue
		}
		vr, vg, vb, vp = vr/cfg.Scale, vg/cfg.Scale, vb/cfg.Scale, vp/cfg.Scale
		w := (cfg.Weights.R*vr + cfg.Weights.G*vg + cfg.Weights.B*vb) / wsum
		if w <= 0 {
			outR.Data[i], outG.Data[i], outB.Data[i] = r.NoData, g.NoData, b.NoData
			continue
		}
		ratio := vp / w
		outR.Data[i], outG.Data[i], outB.Data[i] = vr*ratio, vg*ratio, vb*ratio
	}

	return &common.Scene{
		Timestamp:  scene.Timestamp,
		CloudCover: scene.CloudCover,
		Bands: map[string]*common.Grid{
			cfg.Red:   outR,
			cfg.Green: outG,
			cfg.Blue:  outB,
		},
	}, nil
}
