package provider

import (
	"fmt"
	"math"

	"github.com/airbusgeo/godal"
	"github.com/geolens/pansharp/common"
)

func init() {
	godal.RegisterAll()
}

// readGrid reads the first band of a raster file, cropped to bbox when the
// file carries a geotransform. nodata from the file takes precedence over the
// catalog default.
func readGrid(path string, nodata float64, bbox common.BBox) (*common.Grid, error) {
	ds, err := godal.Open(path, godal.RasterOnly())
	if err != nil {
		return nil, fmt.Errorf("readGrid.Open[%s]: %w", path, err)
	}
	defer ds.Close()

	structure := ds.Structure()
	if structure.NBands == 0 {
		return nil, fmt.Errorf("readGrid[%s]: no raster band", path)
	}

	px, py, w, h := 0, 0, structure.SizeX, structure.SizeY
	if gt, err := ds.GeoTransform(); err == nil && gt[1] != 0 && gt[5] != 0 {
		px, py, w, h = cropWindow(gt, bbox, structure.SizeX, structure.SizeY)
		if w <= 0 || h <= 0 {
			return nil, fmt.Errorf("readGrid[%s]: raster does not cover the requested bbox", path)
		}
	}

	band := ds.Bands()[0]
	if nd, ok := band.NoData(); ok {
		nodata = nd
	}

	grid := common.NewGrid(w, h, nodata)
	if err := band.Read(px, py, grid.Data, w, h); err != nil {
		return nil, fmt.Errorf("readGrid.Read[%s]: %w", path, err)
	}
	return grid, nil
}

// cropWindow converts bbox to a pixel window of the raster, clamped to its size
func cropWindow(gt [6]float64, bbox common.BBox, sizeX, sizeY int) (px, py, w, h int) {
	px = int(math.Floor((bbox.West - gt[0]) / gt[1]))
	py = int(math.Floor((bbox.North - gt[3]) / gt[5]))
	px2 := int(math.Ceil((bbox.East - gt[0]) / gt[1]))
	py2 := int(math.Ceil((bbox.South - gt[3]) / gt[5]))

	px = max(px, 0)
	py = max(py, 0)
	px2 = min(px2, sizeX)
	py2 = min(py2, sizeY)
	return px, py, px2 - px, py2 - py
}
