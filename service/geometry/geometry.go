// Package geometry handles the footprints of the products: intersection of the
// footprints of a stack, bounding polygons and conversions to GeoJSON.
package geometry

import (
	"encoding/json"
	"fmt"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
	geomwkt "github.com/go-spatial/geom/encoding/wkt"
	"github.com/paulsmith/gogeos/geos"
)

// Bounds of a geometry in lon/lat
type Bounds struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// Generates a geom.Geometry from a geos.Geometry
func GeosToGeom(g *geos.Geometry) (geom.Geometry, error) {
	wkt, err := g.ToWKT()
	if err != nil {
		return nil, fmt.Errorf("GeosToGeom.ToWKT: %w", err)
	}
	geometry, err := geomwkt.DecodeString(wkt)
	if err != nil {
		return nil, fmt.Errorf("GeosToGeom.DecodeString: %w", err)
	}

	return geometry, nil
}

// Rectangle returns the polygon of the bounds
func Rectangle(b Bounds) (*geos.Geometry, error) {
	g, err := geos.NewPolygon([]geos.Coord{
		{X: b.MinLon, Y: b.MaxLat},
		{X: b.MinLon, Y: b.MinLat},
		{X: b.MaxLon, Y: b.MinLat},
		{X: b.MaxLon, Y: b.MaxLat},
		{X: b.MinLon, Y: b.MaxLat},
	})
	if err != nil {
		return nil, fmt.Errorf("Rectangle: %w", err)
	}
	return g, nil
}

// Polygon returns the polygon of the ring ([lon, lat]). The ring is closed if needed.
func Polygon(ring [][2]float64) (*geos.Geometry, error) {
	if len(ring) < 3 {
		return nil, fmt.Errorf("Polygon: at least 3 points are required (got %d)", len(ring))
	}
	coords := make([]geos.Coord, 0, len(ring)+1)
	for _, p := range ring {
		coords = append(coords, geos.Coord{X: p[0], Y: p[1]})
	}
	if coords[0] != coords[len(coords)-1] {
		coords = append(coords, coords[0])
	}
	g, err := geos.NewPolygon(coords)
	if err != nil {
		return nil, fmt.Errorf("Polygon: %w", err)
	}
	return g, nil
}

// Intersection returns the area shared by all the geometries
func Intersection(geoms []*geos.Geometry) (*geos.Geometry, error) {
	if len(geoms) == 0 {
		return nil, fmt.Errorf("Intersection: no geometry")
	}
	inter := geoms[0]
	for _, g := range geoms[1:] {
		var err error
		if inter, err = inter.Intersection(g); err != nil {
			return nil, fmt.Errorf("Intersection: %w", err)
		}
	}
	if empty, err := inter.IsEmpty(); err != nil {
		return nil, fmt.Errorf("Intersection.IsEmpty: %w", err)
	} else if empty {
		return nil, fmt.Errorf("Intersection: geometries do not overlap")
	}
	return inter, nil
}

// Envelope returns the bounds of the intersection of the footprints
func Envelope(footprints []Bounds) (Bounds, error) {
	var geoms []*geos.Geometry
	for _, fp := range footprints {
		g, err := Rectangle(fp)
		if err != nil {
			return Bounds{}, fmt.Errorf("Envelope.%w", err)
		}
		geoms = append(geoms, g)
	}
	inter, err := Intersection(geoms)
	if err != nil {
		return Bounds{}, fmt.Errorf("Envelope.%w", err)
	}
	return GetBounds(inter)
}

// GetBounds returns the bounds of a geometry
func GetBounds(g *geos.Geometry) (Bounds, error) {
	gg, err := GeosToGeom(g)
	if err != nil {
		return Bounds{}, fmt.Errorf("GetBounds.%w", err)
	}
	extent, err := geom.NewExtentFromGeometry(gg)
	if err != nil {
		return Bounds{}, fmt.Errorf("GetBounds.NewExtentFromGeometry: %w", err)
	}
	return Bounds{MinLon: extent.MinX(), MinLat: extent.MinY(), MaxLon: extent.MaxX(), MaxLat: extent.MaxY()}, nil
}

// ConvexHull returns the smallest convex polygon containing all the points ([lon, lat])
func ConvexHull(points [][2]float64) (*geos.Geometry, error) {
	if len(points) < 3 {
		return nil, fmt.Errorf("ConvexHull: at least 3 points are required (got %d)", len(points))
	}
	geoms := make([]*geos.Geometry, len(points))
	for i, p := range points {
		var err error
		if geoms[i], err = geos.NewPoint(geos.Coord{X: p[0], Y: p[1]}); err != nil {
			return nil, fmt.Errorf("ConvexHull.NewPoint: %w", err)
		}
	}
	mp, err := geos.NewCollection(geos.MULTIPOINT, geoms...)
	if err != nil {
		return nil, fmt.Errorf("ConvexHull.NewCollection: %w", err)
	}
	hull, err := mp.ConvexHull()
	if err != nil {
		return nil, fmt.Errorf("ConvexHull: %w", err)
	}
	if t, err := hull.Type(); err != nil {
		return nil, fmt.Errorf("ConvexHull.Type: %w", err)
	} else if t != geos.POLYGON {
		return nil, fmt.Errorf("ConvexHull: degenerated hull (%v)", t)
	}
	return hull, nil
}

// PolygonRing returns the exterior ring of a polygon as [lon, lat] coordinates
func PolygonRing(g *geos.Geometry) ([][2]float64, error) {
	gg, err := GeosToGeom(g)
	if err != nil {
		return nil, fmt.Errorf("PolygonRing.%w", err)
	}
	polygon, ok := gg.(geom.Polygon)
	if !ok || len(polygon) == 0 {
		return nil, fmt.Errorf("PolygonRing: not a polygon")
	}
	ring := make([][2]float64, len(polygon[0]))
	for i, p := range polygon[0] {
		ring[i] = [2]float64{p[0], p[1]}
	}
	return ring, nil
}

// MarshalGeoJSON encodes the geometry in GeoJSON
func MarshalGeoJSON(g *geos.Geometry) (json.RawMessage, error) {
	gg, err := GeosToGeom(g)
	if err != nil {
		return nil, fmt.Errorf("MarshalGeoJSON.%w", err)
	}
	b, err := json.Marshal(geojson.Geometry{Geometry: gg})
	if err != nil {
		return nil, fmt.Errorf("MarshalGeoJSON: %w", err)
	}
	return b, nil
}
