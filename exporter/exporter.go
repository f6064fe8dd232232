package exporter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/airbusgeo/cogger"
	"github.com/airbusgeo/godal"
	"github.com/geolens/pansharp/common"
	"github.com/geolens/pansharp/service"
	"github.com/geolens/pansharp/service/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

func init() {
	godal.RegisterAll()
}

// Options configures the export of a stack
type Options struct {
	// Region prefixes the output file names
	Region string
	// Directory receives the output files (must exist)
	Directory string
	// BandOrder fixes the band layout of the output files
	BandOrder []string
	// DType of the output samples. DTypeUInt8 selects the 3-band display
	// variant and its _rgb file name.
	DType common.DType
	// Overwrite an existing output file instead of failing
	Overwrite bool
	// Cog rewrites each file as a cloud-optimized GeoTIFF
	Cog bool
	// Concurrency bounds parallel scene exports (default 4)
	Concurrency int
}

func (o Options) Validate() error {
	if err := common.ValidateRegion(o.Region); err != nil {
		return err
	}
	if len(o.BandOrder) == 0 {
		return fmt.Errorf("Options: band order is required")
	}
	if o.DType == common.DTypeUInt8 && len(o.BandOrder) != 3 {
		return fmt.Errorf("Options: the display variant requires exactly 3 bands, got %d", len(o.BandOrder))
	}
	if info, err := os.Stat(o.Directory); err != nil || !info.IsDir() {
		return fmt.Errorf("Options: output directory %s is not accessible", o.Directory)
	}
	return nil
}

// ErrExport is a failure to export one timestamp
type ErrExport struct {
	Path      string
	Timestamp time.Time
	Err       error
}

func (e ErrExport) Error() string {
	return fmt.Sprintf("export %s (%s): %v", e.Path, e.Timestamp.Format("2006-01-02"), e.Err)
}

func (e ErrExport) Unwrap() error {
	return e.Err
}

// Export writes one scene of the stack as an internally tiled georeferenced
// GeoTIFF and returns its path.
func Export(ctx context.Context, scene *common.Scene, stack *common.RasterStack, opts Options) (string, error) {
	path := filepath.Join(opts.Directory, common.OutputFileName(opts.Region, scene.Timestamp, opts.DType == common.DTypeUInt8))
	fail := func(err error) (string, error) {
		return "", ErrExport{Path: path, Timestamp: scene.Timestamp, Err: err}
	}
	if err := opts.Validate(); err != nil {
		return fail(err)
	}

	for _, name := range opts.BandOrder {
		if _, ok := scene.Bands[name]; !ok {
			return fail(fmt.Errorf("band %s not found in scene (has %s)", name, strings.Join(scene.BandNames(), ", ")))
		}
	}
	if !opts.Overwrite {
		if _, err := os.Stat(path); err == nil {
			return fail(fmt.Errorf("%s already exists", path))
		}
	}
	width, height, err := scene.Shape()
	if err != nil {
		return fail(err)
	}

	tmp := filepath.Join(opts.Directory, "."+uuid.New().String()+".tif")
	defer os.Remove(tmp)
	if err := writeGeoTiff(tmp, scene, stack, opts, width, height); err != nil {
		return fail(err)
	}

	if opts.Cog {
		if err := cogify(tmp, path); err != nil {
			return fail(err)
		}
	} else if err := os.Rename(tmp, path); err != nil {
		return fail(fmt.Errorf("Rename: %w", err))
	}

	log.Logger(ctx).Sugar().Debugf("exported %s (%dx%dx%d %s)", path, width, height, len(opts.BandOrder), opts.DType)
	return path, nil
}

func writeGeoTiff(path string, scene *common.Scene, stack *common.RasterStack, opts Options, width, height int) error {
	ds, err := godal.Create(godal.GTiff, path, len(opts.BandOrder), gdalDType(opts.DType), width, height,
		godal.CreationOption("TILED=YES", "BLOCKXSIZE=256", "BLOCKYSIZE=256", "COMPRESS=DEFLATE"))
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}

	if err := fillGeoTiff(ds, scene, stack, opts, width, height); err != nil {
		ds.Close()
		return err
	}
	if err := ds.Close(); err != nil {
		return fmt.Errorf("Close %s: %w", path, err)
	}
	return nil
}

func fillGeoTiff(ds *godal.Dataset, scene *common.Scene, stack *common.RasterStack, opts Options, width, height int) error {
	if err := ds.SetGeoTransform(stack.Transform); err != nil {
		return fmt.Errorf("SetGeoTransform: %w", err)
	}
	epsg, err := epsgCode(stack.CRS)
	if err != nil {
		return err
	}
	sr, err := godal.NewSpatialRefFromEPSG(epsg)
	if err != nil {
		return fmt.Errorf("NewSpatialRefFromEPSG(%d): %w", epsg, err)
	}
	defer sr.Close()
	if err := ds.SetSpatialRef(sr); err != nil {
		return fmt.Errorf("SetSpatialRef: %w", err)
	}

	for i, name := range opts.BandOrder {
		band := ds.Bands()[i]
		grid := scene.Bands[name]
		if err := band.SetNoData(grid.NoData); err != nil {
			return fmt.Errorf("SetNoData[%s]: %w", name, err)
		}
		if err := band.Write(0, 0, grid.Data, width, height); err != nil {
			return fmt.Errorf("Write[%s]: %w", name, err)
		}
	}
	return nil
}

// cogify rewrites the tiff as a cloud-optimized geotiff
func cogify(src, dst string) error {
	r, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("cogify.Open: %w", err)
	}
	defer r.Close()
	w, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("cogify.Create: %w", err)
	}
	if err := cogger.DefaultConfig().Rewrite(w, r); err != nil {
		w.Close()
		os.Remove(dst)
		return fmt.Errorf("cogify.Rewrite: %w", err)
	}
	return w.Close()
}

// ExportStack exports every scene of the stack, in parallel, and returns the
// paths in timestamp order. Scene failures do not abort the other exports,
// they are merged into the returned error.
func ExportStack(ctx context.Context, stack *common.RasterStack, opts Options) ([]string, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	paths := make([]string, len(stack.Scenes))
	errs := make([]error, len(stack.Scenes))
	wg := errgroup.Group{}
	wg.SetLimit(concurrency)
	for i, scene := range stack.Scenes {
		wg.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			paths[i], errs[i] = Export(ctx, scene, stack, opts)
			return nil
		})
	}
	wg.Wait()

	var err error
	exported := make([]string, 0, len(paths))
	for i := range paths {
		if errs[i] != nil {
			err = service.MergeErrors(true, err, errs[i])
		} else {
			exported = append(exported, paths[i])
		}
	}
	return exported, err
}

func gdalDType(d common.DType) godal.DataType {
	switch d {
	case common.DTypeUInt8:
		return godal.Byte
	case common.DTypeUInt16:
		return godal.UInt16
	case common.DTypeFloat64:
		return godal.Float64
	default:
		return godal.Float32
	}
}

// epsgCode parses a "EPSG:<code>" CRS
func epsgCode(crs string) (int, error) {
	s := strings.TrimPrefix(strings.ToUpper(crs), "EPSG:")
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unsupported CRS %q (expecting EPSG:<code>)", crs)
	}
	return code, nil
}
