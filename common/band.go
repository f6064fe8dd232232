package common

import (
	"fmt"
	"strings"
	"time"
)

// DType is the numeric element type of a band
type DType int

const (
	DTypeUnknown DType = iota
	DTypeUInt8
	DTypeUInt16
	DTypeFloat32
	DTypeFloat64
)

func (d DType) String() string {
	switch d {
	case DTypeUInt8:
		return "UINT8"
	case DTypeUInt16:
		return "UINT16"
	case DTypeFloat32:
		return "FLOAT32"
	case DTypeFloat64:
		return "FLOAT64"
	}
	return "UNKNOWN"
}

// GetDTypeFromString returns the band element type from the catalog sample type
func GetDTypeFromString(input string) DType {
	switch strings.ToUpper(input) {
	case "UINT8", "BYTE":
		return DTypeUInt8
	case "UINT16":
		return DTypeUInt16
	case "FLOAT32":
		return DTypeFloat32
	case "FLOAT64":
		return DTypeFloat64
	}
	return DTypeUnknown
}

// Band is the fixed metadata of one raster band of a Product
type Band struct {
	Name       string  `json:"name"`
	Unit       string  `json:"unit"`
	DType      DType   `json:"dtype"`
	NoData     float64 `json:"nodata"`
	Resolution float64 `json:"resolution"` // native meters per pixel
}

// Collection is an imagery collection known to the catalog
type Collection struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created"`
}

// Product binds a collection id to its band metadata and extent.
// It is resolved once per session and reused across loads.
type Product struct {
	CollectionID string    `json:"collection_id"`
	Bands        []Band    `json:"bands"`
	Extent       BBox      `json:"extent"`
	TimeRange    TimeRange `json:"time_range"`
}

// Band returns the band metadata by name
func (p *Product) Band(name string) (Band, bool) {
	for _, b := range p.Bands {
		if b.Name == name {
			return b, true
		}
	}
	return Band{}, false
}

func (p *Product) BandNames() []string {
	names := make([]string, len(p.Bands))
	for i, b := range p.Bands {
		names[i] = b.Name
	}
	return names
}

// SelectBands resolves a band subset (nil: all bands), failing on unknown names
func (p *Product) SelectBands(names []string) ([]Band, error) {
	if names == nil {
		return p.Bands, nil
	}
	bands := make([]Band, 0, len(names))
	for _, name := range names {
		b, ok := p.Band(name)
		if !ok {
			return nil, fmt.Errorf("band %s not found in collection %s (has %s)", name, p.CollectionID, strings.Join(p.BandNames(), ", "))
		}
		bands = append(bands, b)
	}
	return bands, nil
}
