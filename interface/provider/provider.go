package provider

import (
	"context"
	"fmt"

	"github.com/geolens/pansharp/common"
	"github.com/geolens/pansharp/interface/catalog"
)

// BandProvider is the interface of a raster band retrieval service.
// FetchBand returns the band of one acquisition covering bbox at the band's
// native resolution; the loader aligns it onto the target grid.
type BandProvider interface {
	FetchBand(ctx context.Context, collectionID string, acq catalog.Acquisition, band common.Band, bbox common.BBox) (*common.Grid, error)

	// Name of the provider
	Name() string
}

// ErrBandNotFound is returned when a provider does not hold the requested band
type ErrBandNotFound struct {
	CollectionID string
	Scene        string
	Band         string
}

func (e ErrBandNotFound) Error() string {
	return fmt.Sprintf("band not found or unavailable: %s/%s/%s", e.CollectionID, e.Scene, e.Band)
}
