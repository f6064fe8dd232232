package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/geolens/pansharp/common"
	"github.com/geolens/pansharp/interface/catalog"
	"github.com/geolens/pansharp/service"
)

// LocalProvider serves bands from a directory tree laid out as
// <dir>/<collection>/<sceneID>_<band>.tif
type LocalProvider struct {
	dir string
}

func NewLocalProvider(dir string) *LocalProvider {
	return &LocalProvider{dir: dir}
}

// Name implements BandProvider
func (l *LocalProvider) Name() string {
	return "Local[" + l.dir + "]"
}

// FetchBand implements BandProvider
func (l *LocalProvider) FetchBand(ctx context.Context, collectionID string, acq catalog.Acquisition, band common.Band, bbox common.BBox) (*common.Grid, error) {
	path := filepath.Join(l.dir, collectionID, fmt.Sprintf("%s_%s.tif", acq.ID, band.Name))
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, service.MakeFatal(ErrBandNotFound{CollectionID: collectionID, Scene: acq.ID, Band: band.Name})
		}
		return nil, service.MakeTemporary(fmt.Errorf("LocalProvider.Stat: %w", err))
	}

	grid, err := readGrid(path, band.NoData, bbox)
	if err != nil {
		return nil, fmt.Errorf("LocalProvider.%w", err)
	}
	return grid, nil
}
