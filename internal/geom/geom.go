// Package geom converts between coordinate pairs/polygon rings and the
// store's native geometry representation. The native representation is
// canonical GeoJSON text, so every literal that makes it into the store
// went through the GeoJSON constructor and is valid by construction.
package geom

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// ErrInvalidGeometry is returned for out-of-range coordinates, NaN/Inf
// components, degenerate rings and malformed GeoJSON literals.
var ErrInvalidGeometry = errors.New("invalid geometry")

// Literal is a geometry in the store's native representation
// (canonical GeoJSON, WGS84 / SRID 4326).
type Literal []byte

// ValidateCoords checks a single WGS84 coordinate pair.
func ValidateCoords(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return fmt.Errorf("%w: non-finite coordinate (%v, %v)", ErrInvalidGeometry, lat, lng)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90,90]", ErrInvalidGeometry, lat)
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180,180]", ErrInvalidGeometry, lng)
	}
	return nil
}

// EncodePoint encodes a coordinate pair as a native point literal.
func EncodePoint(lat, lng float64) (Literal, error) {
	if err := ValidateCoords(lat, lng); err != nil {
		return nil, err
	}
	return marshal(orb.Point{lng, lat})
}

// EncodePolygon encodes one or more rings (outer first, [lat,lng] vertex
// order) as a native polygon literal. Rings are closed automatically.
func EncodePolygon(rings [][][2]float64) (Literal, error) {
	if len(rings) == 0 {
		return nil, fmt.Errorf("%w: polygon requires at least one ring", ErrInvalidGeometry)
	}
	poly := make(orb.Polygon, 0, len(rings))
	for _, vertices := range rings {
		if len(vertices) < 3 {
			return nil, fmt.Errorf("%w: ring requires at least 3 vertices, got %d", ErrInvalidGeometry, len(vertices))
		}
		ring := make(orb.Ring, 0, len(vertices)+1)
		for _, v := range vertices {
			if err := ValidateCoords(v[0], v[1]); err != nil {
				return nil, err
			}
			ring = append(ring, orb.Point{v[1], v[0]})
		}
		if !ring.Closed() {
			ring = append(ring, ring[0])
		}
		poly = append(poly, ring)
	}
	return marshal(poly)
}

// DecodeToGeoJSON parses a native literal back into a GeoJSON geometry.
func DecodeToGeoJSON(lit Literal) (*geojson.Geometry, error) {
	if len(lit) == 0 {
		return nil, fmt.Errorf("%w: empty literal", ErrInvalidGeometry)
	}
	g, err := geojson.UnmarshalGeometry(lit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}
	return g, nil
}

// PointCoords extracts (lat, lng) from a point literal.
func PointCoords(lit Literal) (lat, lng float64, err error) {
	g, err := DecodeToGeoJSON(lit)
	if err != nil {
		return 0, 0, err
	}
	p, ok := g.Geometry().(orb.Point)
	if !ok {
		return 0, 0, fmt.Errorf("%w: expected Point, got %s", ErrInvalidGeometry, g.Type)
	}
	return p.Lat(), p.Lon(), nil
}

// Contains reports whether a polygon/multipolygon literal contains the point.
func Contains(lit Literal, lat, lng float64) (bool, error) {
	g, err := DecodeToGeoJSON(lit)
	if err != nil {
		return false, err
	}
	pt := orb.Point{lng, lat}
	switch geomv := g.Geometry().(type) {
	case orb.Polygon:
		return planar.PolygonContains(geomv, pt), nil
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(geomv, pt), nil
	default:
		return false, fmt.Errorf("%w: containment requires polygonal geometry, got %s", ErrInvalidGeometry, g.Type)
	}
}

// Centroid returns the (lat, lng) centroid of a geometry literal.
func Centroid(lit Literal) (lat, lng float64, err error) {
	g, err := DecodeToGeoJSON(lit)
	if err != nil {
		return 0, 0, err
	}
	c, _ := planar.CentroidArea(g.Geometry())
	return c.Lat(), c.Lon(), nil
}

// Bounds returns the bounding box of a literal as (minLat, maxLat, minLng, maxLng).
func Bounds(lit Literal) (minLat, maxLat, minLng, maxLng float64, err error) {
	g, err := DecodeToGeoJSON(lit)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	b := g.Geometry().Bound()
	return b.Min.Lat(), b.Max.Lat(), b.Min.Lon(), b.Max.Lon(), nil
}

// DistanceMeters returns the haversine distance between two coordinate pairs.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	return geo.DistanceHaversine(orb.Point{lng1, lat1}, orb.Point{lng2, lat2})
}

func marshal(g orb.Geometry) (Literal, error) {
	data, err := geojson.NewGeometry(g).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}
	return Literal(data), nil
}
