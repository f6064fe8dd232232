package sentinelhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/araddon/dateparse"
	"github.com/geolens/pansharp/common"
	"github.com/geolens/pansharp/interface/catalog"
	"github.com/geolens/pansharp/service"
	"github.com/geolens/pansharp/service/log"
)

type collectionSearchRequest struct {
	Provider string `json:"provider,omitempty"`
	Bounds   struct {
		BBox [4]float64 `json:"bbox"`
	} `json:"bounds"`
	Data []struct {
		Constellation string `json:"constellation"`
	} `json:"data,omitempty"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type collectionEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Created  string `json:"created"`
}

type collectionSearchResponse struct {
	Data  []collectionEntry `json:"data"`
	Total int               `json:"total"`
}

// SearchCollections implements catalog.CollectionSearcher. It pages through
// the search results until exhausted, de-duplicating entries by id. A filter
// matching nothing returns an empty list, not an error.
func (c *Client) SearchCollections(ctx context.Context, filter catalog.CollectionFilter) ([]common.Collection, error) {
	request := collectionSearchRequest{Provider: filter.Provider, Limit: c.pageLimit}
	request.Bounds.BBox = filter.BBox.Slice()
	for _, constellation := range filter.Constellations {
		request.Data = append(request.Data, struct {
			Constellation string `json:"constellation"`
		}{constellation})
	}

	var collections []common.Collection
	seen := service.StringSet{}
	for page := 0; ; page++ {
		request.Offset = page * c.pageLimit
		b, err := json.Marshal(request)
		if err != nil {
			return nil, fmt.Errorf("SearchCollections.Marshal: %w", err)
		}
		body, err := c.do(ctx, http.MethodPost, c.endpoint+"/collections/search", b)
		if err != nil {
			return nil, fmt.Errorf("SearchCollections.%w", err)
		}
		response := collectionSearchResponse{}
		if err := json.Unmarshal(body, &response); err != nil {
			return nil, fmt.Errorf("SearchCollections.Unmarshal: %w (response: %s)", err, body)
		}

		for _, entry := range response.Data {
			if seen.Exists(entry.ID) {
				continue
			}
			seen.Push(entry.ID)
			created, err := dateparse.ParseAny(entry.Created)
			if err != nil {
				return nil, fmt.Errorf("SearchCollections: failed to parse creation date %q: %w", entry.Created, err)
			}
			provider := entry.Provider
			if provider == "" {
				provider = filter.Provider
			}
			collections = append(collections, common.Collection{
				ID:        entry.ID,
				Provider:  provider,
				Name:      entry.Name,
				CreatedAt: created,
			})
		}

		if len(response.Data) == 0 || request.Offset+len(response.Data) >= response.Total {
			break
		}
	}

	log.Logger(ctx).Sugar().Debugf("%d collections found", len(collections))
	return collections, nil
}

type collectionFullResponse struct {
	collectionEntry
	Extent struct {
		BBox [4]float64 `json:"bbox"`
		From string     `json:"from"`
		To   string     `json:"to"`
	} `json:"extent"`
	Bands []struct {
		Name       string  `json:"name"`
		Unit       string  `json:"unit"`
		SampleType string  `json:"sampleType"`
		NoData     float64 `json:"nodata"`
		Resolution float64 `json:"resolution"`
	} `json:"bands"`
}

// GetProduct implements catalog.ProductResolver: it verifies the collection
// exists and binds its id to the typed band metadata and extent.
func (c *Client) GetProduct(ctx context.Context, collectionID string) (*common.Product, error) {
	body, err := c.do(ctx, http.MethodGet, c.endpoint+"/collections/"+collectionID, nil)
	if err != nil {
		var serr statusError
		if errors.As(err, &serr) && serr.Code == 404 {
			return nil, catalog.ErrCollectionNotFound{CollectionID: collectionID}
		}
		return nil, fmt.Errorf("GetProduct[%s].%w", collectionID, err)
	}
	response := collectionFullResponse{}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("GetProduct[%s].Unmarshal: %w (response: %s)", collectionID, err, body)
	}
	if len(response.Bands) == 0 {
		return nil, fmt.Errorf("GetProduct[%s]: no band metadata in response", collectionID)
	}

	product := common.Product{
		CollectionID: collectionID,
		Extent: common.NewBBox(response.Extent.BBox[0], response.Extent.BBox[1],
			response.Extent.BBox[2], response.Extent.BBox[3]),
	}
	if response.Extent.From != "" {
		if product.TimeRange.Start, err = dateparse.ParseAny(response.Extent.From); err != nil {
			return nil, fmt.Errorf("GetProduct[%s]: failed to parse extent start: %w", collectionID, err)
		}
	}
	if response.Extent.To != "" {
		if product.TimeRange.End, err = dateparse.ParseAny(response.Extent.To); err != nil {
			return nil, fmt.Errorf("GetProduct[%s]: failed to parse extent end: %w", collectionID, err)
		}
	}
	for _, band := range response.Bands {
		dtype := common.GetDTypeFromString(band.SampleType)
		if dtype == common.DTypeUnknown {
			return nil, fmt.Errorf("GetProduct[%s]: unrecognized sample type %q for band %s", collectionID, band.SampleType, band.Name)
		}
		product.Bands = append(product.Bands, common.Band{
			Name:       band.Name,
			Unit:       band.Unit,
			DType:      dtype,
			NoData:     band.NoData,
			Resolution: band.Resolution,
		})
	}
	return &product, nil
}
