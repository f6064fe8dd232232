package processor

import (
	"fmt"
	"math"

	"github.com/geolens/pansharp/common"
)

// Rescale maps every band of the stack from [0, domainMax] to integer values
// in [0, outMax]: round(min(v, domainMax) * outMax / domainMax), clamped at
// zero. The mapping is monotonic and reaches outMax exactly at domainMax.
// Nodata input pixels map to the output nodata sentinel 0. Returns a new
// stack, the input is left untouched.
func Rescale(stack *common.RasterStack, domainMax, outMax float64) (*common.RasterStack, error) {
	if domainMax <= 0 {
		return nil, fmt.Errorf("Rescale: domain max must be strictly positive, got %g", domainMax)
	}
	if outMax <= 0 {
		return nil, fmt.Errorf("Rescale: output max must be strictly positive, got %g", outMax)
	}

	scenes := make([]*common.Scene, len(stack.Scenes))
	for i, scene := range stack.Scenes {
		out := &common.Scene{
			Timestamp:  scene.Timestamp,
			CloudCover: scene.CloudCover,
			Bands:      make(map[string]*common.Grid, len(scene.Bands)),
		}
		for name, g := range scene.Bands {
			og := common.NewGrid(g.Width, g.Height, 0)
			for j, v := range g.Data {
				if v == g.NoData {
					continue
				}
				og.Data[j] = rescaleValue(v, domainMax, outMax)
			}
			out.Bands[name] = og
		}
		scenes[i] = out
	}

	nodata := make(map[string]float64, len(stack.NoData))
	for name := range stack.NoData {
		nodata[name] = 0
	}
	return &common.RasterStack{Scenes: scenes, CRS: stack.CRS, Transform: stack.Transform, NoData: nodata}, nil
}

func rescaleValue(v, domainMax, outMax float64) float64 {
	if v < 0 {
		return 0
	}
	return math.Round(math.Min(v, domainMax) * outMax / domainMax)
}
