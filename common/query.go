package common

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkt"
)

// metersPerDegree at the equator, used to convert a geographic bbox span
// to an output grid size for a resolution given in meters per pixel.
const metersPerDegree = 111320.0

// Resampling defines how a band grid is aligned onto the target grid
type Resampling int

const (
	ResamplingNearest Resampling = iota
	ResamplingBilinear
	ResamplingBicubic
)

func (r Resampling) String() string {
	switch r {
	case ResamplingNearest:
		return "nearest"
	case ResamplingBilinear:
		return "bilinear"
	case ResamplingBicubic:
		return "bicubic"
	}
	return "unknown"
}

// GetResamplingFromString returns the resampling method from the user input.
// An empty input defaults to nearest.
func GetResamplingFromString(input string) (Resampling, error) {
	switch strings.ToLower(input) {
	case "", "nearest":
		return ResamplingNearest, nil
	case "bilinear":
		return ResamplingBilinear, nil
	case "bicubic", "cubic":
		return ResamplingBicubic, nil
	}
	return ResamplingNearest, fmt.Errorf("unrecognized resampling method: %s", input)
}

// BBox is an axis-aligned geographic bounding box (degrees, EPSG:4326 axis order lon/lat)
type BBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

func NewBBox(minLon, minLat, maxLon, maxLat float64) BBox {
	return BBox{West: minLon, South: minLat, East: maxLon, North: maxLat}
}

func (b BBox) Validate() error {
	if b.West < -180 || b.East > 180 || b.South < -90 || b.North > 90 {
		return fmt.Errorf("bbox out of geographic range: %v", b)
	}
	if b.West >= b.East || b.South >= b.North {
		return fmt.Errorf("empty bbox: %v", b)
	}
	return nil
}

// Slice returns [minLon, minLat, maxLon, maxLat]
func (b BBox) Slice() [4]float64 {
	return [4]float64{b.West, b.South, b.East, b.North}
}

func (b BBox) Polygon() geom.Polygon {
	return geom.Polygon{{
		{b.West, b.South},
		{b.East, b.South},
		{b.East, b.North},
		{b.West, b.North},
		{b.West, b.South},
	}}
}

func (b BBox) WKT() string {
	return wkt.MustEncode(b.Polygon())
}

func (b BBox) Intersects(o BBox) bool {
	return b.West < o.East && o.West < b.East && b.South < o.North && o.South < b.North
}

// TimeRange is an inclusive [Start, End] interval
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (t TimeRange) Validate() error {
	if t.Start.IsZero() || t.End.IsZero() {
		return fmt.Errorf("time range not set")
	}
	if t.End.Before(t.Start) {
		return fmt.Errorf("time range ends (%v) before it starts (%v)", t.End, t.Start)
	}
	return nil
}

func (t TimeRange) Contains(ts time.Time) bool {
	return !ts.Before(t.Start) && !ts.After(t.End)
}

// GeoQuery describes one load request: where, when and at which resolution.
// It is immutable once constructed and safe to share between goroutines.
type GeoQuery struct {
	BBox       BBox
	Time       TimeRange
	Resolution float64 // meters per pixel of the output grid
	Resampling Resampling
	CRS        string // defaults to EPSG:4326

	// Bands restricts the load to a subset of the product bands (nil: all bands)
	Bands []string
	// MaxCloudCover excludes acquisitions above this fraction [0,1] (nil: no filter)
	MaxCloudCover *float64
}

const DefaultCRS = "EPSG:4326"

func (q GeoQuery) Validate() error {
	if err := q.BBox.Validate(); err != nil {
		return fmt.Errorf("GeoQuery: %w", err)
	}
	if err := q.Time.Validate(); err != nil {
		return fmt.Errorf("GeoQuery: %w", err)
	}
	if q.Resolution <= 0 {
		return fmt.Errorf("GeoQuery: resolution must be strictly positive, got %g", q.Resolution)
	}
	if q.MaxCloudCover != nil && (*q.MaxCloudCover < 0 || *q.MaxCloudCover > 1) {
		return fmt.Errorf("GeoQuery: max cloud cover must be within [0,1], got %g", *q.MaxCloudCover)
	}
	return nil
}

// CRSOrDefault returns the query CRS, defaulting to EPSG:4326
func (q GeoQuery) CRSOrDefault() string {
	if q.CRS == "" {
		return DefaultCRS
	}
	return q.CRS
}

// GridSize returns the output grid shape of the query
func (q GeoQuery) GridSize() (width, height int) {
	return GridSize(q.BBox, q.Resolution)
}

// GridSize converts the bbox span to pixels at the given resolution (meters
// per pixel), measuring longitude spans at the bbox center latitude.
func GridSize(b BBox, resolution float64) (width, height int) {
	midLat := (b.South + b.North) / 2 * math.Pi / 180
	width = int(math.Round((b.East - b.West) * metersPerDegree * math.Cos(midLat) / resolution))
	height = int(math.Round((b.North - b.South) * metersPerDegree / resolution))
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return width, height
}

// Transform returns the affine pixel-to-geographic transform of the query
// grid: [originX, pixelWidth, 0, originY, 0, -pixelHeight]
func (q GeoQuery) Transform() [6]float64 {
	w, h := q.GridSize()
	return [6]float64{
		q.BBox.West, (q.BBox.East - q.BBox.West) / float64(w), 0,
		q.BBox.North, 0, -(q.BBox.North - q.BBox.South) / float64(h),
	}
}
