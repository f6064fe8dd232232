package common

import (
	"fmt"
	"sort"
	"time"
)

// Grid is one band's 2D raster frame, row-major
type Grid struct {
	Width  int
	Height int
	NoData float64
	Data   []float64
}

func NewGrid(width, height int, nodata float64) *Grid {
	return &Grid{Width: width, Height: height, NoData: nodata, Data: make([]float64, width*height)}
}

func (g *Grid) At(x, y int) float64 {
	return g.Data[y*g.Width+x]
}

func (g *Grid) Set(x, y int, v float64) {
	g.Data[y*g.Width+x] = v
}

func (g *Grid) SameShape(o *Grid) bool {
	return g.Width == o.Width && g.Height == o.Height
}

func (g *Grid) Clone() *Grid {
	c := &Grid{Width: g.Width, Height: g.Height, NoData: g.NoData, Data: make([]float64, len(g.Data))}
	copy(c.Data, g.Data)
	return c
}

// Scene is one timestamp's raster frame. All bands share an identical grid
// shape, enforced by the loader and re-checked by NewRasterStack.
type Scene struct {
	Timestamp  time.Time
	CloudCover float64 // fraction [0,1], -1 when unknown
	Bands      map[string]*Grid
}

// Shape returns the common shape of the scene bands
func (s *Scene) Shape() (width, height int, err error) {
	for name, g := range s.Bands {
		if width == 0 && height == 0 {
			width, height = g.Width, g.Height
		} else if g.Width != width || g.Height != height {
			return 0, 0, fmt.Errorf("scene %s: band %s is %dx%d, expecting %dx%d",
				s.Timestamp.Format("2006-01-02"), name, g.Width, g.Height, width, height)
		}
	}
	if width == 0 || height == 0 {
		return 0, 0, fmt.Errorf("scene %s has no band data", s.Timestamp.Format("2006-01-02"))
	}
	return width, height, nil
}

func (s *Scene) BandNames() []string {
	names := make([]string, 0, len(s.Bands))
	for name := range s.Bands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RasterStack is an ordered sequence of scenes on a common georeferenced
// grid. Derivative stacks (sharpened, rescaled) are new values, the scenes
// of a stack are never mutated in place.
type RasterStack struct {
	Scenes    []*Scene
	CRS       string
	Transform [6]float64 // affine pixel-to-geographic transform
	NoData    map[string]float64
}

// NewRasterStack assembles scenes into a stack sorted by ascending timestamp.
// It fails on duplicated timestamps and on band shape mismatches.
func NewRasterStack(scenes []*Scene, crs string, transform [6]float64, nodata map[string]float64) (*RasterStack, error) {
	sorted := make([]*Scene, len(scenes))
	copy(sorted, scenes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var width, height int
	for i, scene := range sorted {
		if i > 0 && !sorted[i-1].Timestamp.Before(scene.Timestamp) {
			return nil, fmt.Errorf("NewRasterStack: duplicated timestamp %v", scene.Timestamp)
		}
		w, h, err := scene.Shape()
		if err != nil {
			return nil, fmt.Errorf("NewRasterStack: %w", err)
		}
		if i == 0 {
			width, height = w, h
		} else if w != width || h != height {
			return nil, fmt.Errorf("NewRasterStack: scene %v is %dx%d, expecting %dx%d",
				scene.Timestamp, w, h, width, height)
		}
	}

	return &RasterStack{Scenes: sorted, CRS: crs, Transform: transform, NoData: nodata}, nil
}

func (r *RasterStack) Timestamps() []time.Time {
	ts := make([]time.Time, len(r.Scenes))
	for i, s := range r.Scenes {
		ts[i] = s.Timestamp
	}
	return ts
}

// Shape returns the common grid shape of the stack
func (r *RasterStack) Shape() (width, height int) {
	if len(r.Scenes) == 0 {
		return 0, 0
	}
	width, height, _ = r.Scenes[0].Shape()
	return width, height
}
