package exporter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/geolens/pansharp/common"
)

var testTS = time.Date(2021, 2, 26, 8, 0, 0, 0, time.UTC)

func testStack(dir string) (*common.Scene, *common.RasterStack) {
	scene := &common.Scene{
		Timestamp: testTS,
		Bands: map[string]*common.Grid{
			"B2": common.NewGrid(4, 4, 0),
			"B1": common.NewGrid(4, 4, 0),
			"B0": common.NewGrid(4, 4, 0),
		},
	}
	stack := &common.RasterStack{
		Scenes:    []*common.Scene{scene},
		CRS:       "EPSG:4326",
		Transform: [6]float64{34.0, 0.0001, 0, -19.9, 0, -0.0001},
		NoData:    map[string]float64{"B2": 0, "B1": 0, "B0": 0},
	}
	return scene, stack
}

func testOptions(dir string) Options {
	return Options{
		Region:    "Mozambique",
		Directory: dir,
		BandOrder: []string{"B2", "B1", "B0"},
		DType:     common.DTypeFloat32,
	}
}

func TestOptionsValidate(t *testing.T) {
	dir := t.TempDir()

	if err := testOptions(dir).Validate(); err != nil {
		t.Fatalf("%v", err)
	}

	opts := testOptions(dir)
	opts.Region = "no spaces"
	if err := opts.Validate(); err == nil {
		t.Errorf("expected an invalid region to be rejected")
	}

	opts = testOptions(dir)
	opts.BandOrder = nil
	if err := opts.Validate(); err == nil {
		t.Errorf("expected an empty band order to be rejected")
	}

	opts = testOptions(dir)
	opts.DType = common.DTypeUInt8
	opts.BandOrder = []string{"B2"}
	if err := opts.Validate(); err == nil {
		t.Errorf("expected the display variant to require 3 bands")
	}

	opts = testOptions(filepath.Join(dir, "missing"))
	if err := opts.Validate(); err == nil {
		t.Errorf("expected a missing directory to be rejected")
	}
}

func TestExportUnknownBand(t *testing.T) {
	dir := t.TempDir()
	scene, stack := testStack(dir)

	opts := testOptions(dir)
	opts.BandOrder = []string{"B2", "B1", "B42"}
	_, err := Export(context.Background(), scene, stack, opts)
	var eerr ErrExport
	if !errors.As(err, &eerr) {
		t.Fatalf("expected an ErrExport, got %v", err)
	}
	if !eerr.Timestamp.Equal(testTS) {
		t.Errorf("unexpected timestamp %v", eerr.Timestamp)
	}
	if filepath.Base(eerr.Path) != "Mozambique_2021-02-26.tif" {
		t.Errorf("unexpected path %s", eerr.Path)
	}
}

func TestExportNoOverwrite(t *testing.T) {
	dir := t.TempDir()
	scene, stack := testStack(dir)

	existing := filepath.Join(dir, "Mozambique_2021-02-26_rgb.tif")
	if err := os.WriteFile(existing, []byte("previous run"), 0644); err != nil {
		t.Fatalf("%v", err)
	}

	opts := testOptions(dir)
	opts.DType = common.DTypeUInt8
	_, err := Export(context.Background(), scene, stack, opts)
	var eerr ErrExport
	if !errors.As(err, &eerr) {
		t.Fatalf("expected an ErrExport on an existing file, got %v", err)
	}
	if eerr.Path != existing {
		t.Errorf("expected the display variant name %s, got %s", existing, eerr.Path)
	}
}

func TestEPSGCode(t *testing.T) {
	if code, err := epsgCode("EPSG:4326"); err != nil || code != 4326 {
		t.Errorf("expected 4326, got %d (%v)", code, err)
	}
	if code, err := epsgCode("epsg:32736"); err != nil || code != 32736 {
		t.Errorf("expected 32736, got %d (%v)", code, err)
	}
	if _, err := epsgCode("WGS84"); err == nil {
		t.Errorf("expected an unsupported CRS to be rejected")
	}
}
