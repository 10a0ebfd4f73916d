package rides

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aeroride/carpool/pkg/geo"
	"github.com/aeroride/carpool/pkg/httpclient"
)

// OSRMClient fetches driving polylines from an OSRM instance.
type OSRMClient struct {
	client *httpclient.Client
}

// NewOSRMClient creates a routing client against the given OSRM base URL.
func NewOSRMClient(baseURL string, timeout time.Duration) *OSRMClient {
	return &OSRMClient{
		client: httpclient.NewClient(baseURL, timeout, httpclient.WithDefaultRetry()),
	}
}

type osrmRouteResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

// Route returns the driving polyline between two points.
func (c *OSRMClient) Route(ctx context.Context, from, to geo.Point) ([]geo.Point, error) {
	path := fmt.Sprintf("/route/v1/driving/%f,%f;%f,%f?overview=full&geometries=geojson",
		from.Lon, from.Lat, to.Lon, to.Lat)

	body, err := c.client.Get(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("routing request failed: %w", err)
	}

	var resp osrmRouteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse routing response: %w", err)
	}
	if resp.Code != "Ok" || len(resp.Routes) == 0 {
		return nil, fmt.Errorf("no route found (code %s)", resp.Code)
	}

	coords := resp.Routes[0].Geometry.Coordinates
	route := make([]geo.Point, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		route = append(route, geo.Point{Lat: c[1], Lon: c[0]})
	}
	return route, nil
}
