package spot

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// FeatureCollection renders points as GeoJSON. GeoJSON positions are
// [lng, lat], the reverse of the stored order.
func FeatureCollection(points []Point) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(points))}
	for _, p := range points {
		props := map[string]interface{}{
			"name":      p.Name,
			"type":      p.Type,
			"createdBy": p.CreatedBy,
		}
		if p.Description != "" {
			props["description"] = p.Description
		}
		if p.CreatedAt != 0 {
			props["createdAt"] = p.CreatedAt
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         p.ID,
			Geometry:   geom.NewPointFlat(geom.XY, []float64{p.Lng(), p.Lat()}),
			Properties: props,
		})
	}
	return fc
}

func (s *Service) GeoJSON(ctx context.Context) ([]byte, error) {
	points, err := s.ListPoints(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := FeatureCollection(points).MarshalJSON()
	if err != nil {
		return nil, eris.Wrap(err, "spot: encode geojson")
	}
	return raw, nil
}
