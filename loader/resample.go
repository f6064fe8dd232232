package loader

import (
	"math"

	"github.com/geolens/pansharp/common"
)

// Resample aligns a grid onto a width x height target using the given method.
// Nodata is honored: a target pixel whose nearest source is nodata stays
// nodata, and interpolating kernels fall back to the nearest source whenever
// a contributing sample is nodata.
func Resample(src *common.Grid, width, height int, method common.Resampling) *common.Grid {
	if src.Width == width && src.Height == height {
		return src
	}
	dst := common.NewGrid(width, height, src.NoData)
	for y := 0; y < height; y++ {
		sy := (float64(y)+0.5)*float64(src.Height)/float64(height) - 0.5
		for x := 0; x < width; x++ {
			sx := (float64(x)+0.5)*float64(src.Width)/float64(width) - 0.5
			switch method {
			case common.ResamplingBilinear:
				dst.Set(x, y, bilinear(src, sx, sy))
			case common.ResamplingBicubic:
				dst.Set(x, y, bicubic(src, sx, sy))
			default:
				dst.Set(x, y, nearest(src, sx, sy))
			}
		}
	}
	return dst
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func at(g *common.Grid, x, y int) float64 {
	return g.At(clamp(x, 0, g.Width-1), clamp(y, 0, g.Height-1))
}

func nearest(g *common.Grid, sx, sy float64) float64 {
	return at(g, int(math.Round(sx)), int(math.Round(sy)))
}

func bilinear(g *common.Grid, sx, sy float64) float64 {
	x0, y0 := int(math.Floor(sx)), int(math.Floor(sy))
	fx, fy := sx-float64(x0), sy-float64(y0)

	v00, v10 := at(g, x0, y0), at(g, x0+1, y0)
	v01, v11 := at(g, x0, y0+1), at(g, x0+1, y0+1)
	if v00 == g.NoData || v10 == g.NoData || v01 == g.NoData || v11 == g.NoData {
		return nearest(g, sx, sy)
	}
	return v00*(1-fx)*(1-fy) + v10*fx*(1-fy) + v01*(1-fx)*fy + v11*fx*fy
}

// cubicWeight is the Catmull-Rom kernel
func cubicWeight(t float64) float64 {
	t = math.Abs(t)
	switch {
	case t < 1:
		return 1.5*t*t*t - 2.5*t*t + 1
	case t < 2:
		return -0.5*t*t*t + 2.5*t*t - 4*t + 2
	}
	return 0
}

func bicubic(g *common.Grid, sx, sy float64) float64 {
	x0, y0 := int(math.Floor(sx)), int(math.Floor(sy))
	fx, fy := sx-float64(x0), sy-float64(y0)

	var sum, wsum float64
	for j := -1; j <= 2; j++ {
		wy := cubicWeight(float64(j) - fy)
		if wy == 0 {
			continue
		}
		for i := -1; i <= 2; i++ {
			wx := cubicWeight(float64(i) - fx)
			if wx == 0 {
				continue
			}
			v := at(g, x0+i, y0+j)
			if v == g.NoData {
				return nearest(g, sx, sy)
			}
			sum += v * wx * wy
			wsum += wx * wy
		}
	}
	if wsum == 0 {
		return nearest(g, sx, sy)
	}
	return sum / wsum
}
