package store

import (
	"database/sql"
	"fmt"
	"sync"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/tigawanna/geo-notes-sub000/internal/geom"
)

// DriverName is the SQLite driver variant with the spatial function layer
// installed. Every connection opened through it can call the geo_* SQL
// functions below.
const DriverName = "sqlite3_spatial"

var registerDriverOnce sync.Once

// registerDriver installs the spatial driver. sql.Register panics on
// duplicate names, so registration is guarded by a package-level Once.
func registerDriver() {
	registerDriverOnce.Do(func() {
		sql.Register(DriverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				funcs := []struct {
					name string
					impl any
					pure bool
				}{
					{"geom_from_geojson", geomFromGeoJSON, true},
					{"geo_contains", geoContains, true},
					{"geo_distance", geoDistance, true},
					{"geo_centroid_lat", geoCentroidLat, true},
					{"geo_centroid_lng", geoCentroidLng, true},
					{"geo_point_lat", geoPointLat, true},
					{"geo_point_lng", geoPointLng, true},
				}
				for _, f := range funcs {
					if err := conn.RegisterFunc(f.name, f.impl, f.pure); err != nil {
						return fmt.Errorf("failed to register SQL function %s: %w", f.name, err)
					}
				}
				return nil
			},
		})
	})
}

// geomFromGeoJSON is the native "construct geometry from GeoJSON text"
// primitive. It round-trips the input through the codec so only valid,
// canonical literals are ever stored.
func geomFromGeoJSON(text string) (string, error) {
	g, err := geom.DecodeToGeoJSON(geom.Literal(text))
	if err != nil {
		return "", err
	}
	data, err := g.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func geoContains(lit string, lat, lng float64) (bool, error) {
	return geom.Contains(geom.Literal(lit), lat, lng)
}

func geoDistance(lat1, lng1, lat2, lng2 float64) float64 {
	return geom.DistanceMeters(lat1, lng1, lat2, lng2)
}

func geoCentroidLat(lit string) (float64, error) {
	lat, _, err := geom.Centroid(geom.Literal(lit))
	return lat, err
}

func geoCentroidLng(lit string) (float64, error) {
	_, lng, err := geom.Centroid(geom.Literal(lit))
	return lng, err
}

func geoPointLat(lit string) (float64, error) {
	lat, _, err := geom.PointCoords(geom.Literal(lit))
	return lat, err
}

func geoPointLng(lit string) (float64, error) {
	_, lng, err := geom.PointCoords(geom.Literal(lit))
	return lng, err
}
