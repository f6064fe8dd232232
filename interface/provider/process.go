package provider

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/geolens/pansharp/common"
	"github.com/geolens/pansharp/interface/catalog"
	"github.com/geolens/pansharp/service"
)

// ProcessProvider retrieves bands from a rendering endpoint that computes the
// requested window server-side and streams it back as raw little-endian
// float32 samples.
type ProcessProvider struct {
	endpoint string
	hc       *http.Client
}

func NewProcessProvider(endpoint string, hc *http.Client) *ProcessProvider {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &ProcessProvider{endpoint: endpoint, hc: hc}
}

func (p *ProcessProvider) Name() string {
	return "process:" + p.endpoint
}

type processRequest struct {
	Collection  string     `json:"collection"`
	Acquisition string     `json:"acquisition"`
	Band        string     `json:"band"`
	BBox        [4]float64 `json:"bbox"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
}

// FetchBand requests the band window at its native resolution
func (p *ProcessProvider) FetchBand(ctx context.Context, collectionID string, acq catalog.Acquisition, band common.Band, bbox common.BBox) (*common.Grid, error) {
	if band.Resolution <= 0 {
		return nil, service.MakeFatal(fmt.Errorf("FetchBand: band %s has no native resolution", band.Name))
	}
	width, height := common.GridSize(bbox, band.Resolution)

	payload, err := json.Marshal(processRequest{
		Collection:  collectionID,
		Acquisition: acq.ID,
		Band:        band.Name,
		BBox:        bbox.Slice(),
		Width:       width,
		Height:      height,
	})
	if err != nil {
		return nil, service.MakeFatal(fmt.Errorf("FetchBand.Marshal: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/process", bytes.NewReader(payload))
	if err != nil {
		return nil, service.MakeFatal(fmt.Errorf("FetchBand.NewRequest: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := p.hc.Do(req)
	if err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("FetchBand.Do: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, service.MakeFatal(ErrBandNotFound{CollectionID: collectionID, Scene: acq.ID, Band: band.Name})
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, service.MakeFatal(fmt.Errorf("FetchBand: %s", resp.Status))
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return nil, service.MakeFatal(fmt.Errorf("FetchBand: %s", resp.Status))
	default:
		return nil, service.MakeTemporary(fmt.Errorf("FetchBand: %s", resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("FetchBand.ReadAll: %w", err))
	}
	if len(body) != width*height*4 {
		return nil, fmt.Errorf("FetchBand: expected %d bytes for a %dx%d float32 grid, got %d", width*height*4, width, height, len(body))
	}

	grid := common.NewGrid(width, height, band.NoData)
	for i := range grid.Data {
		grid.Data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(body[4*i:])))
	}
	return grid, nil
}
