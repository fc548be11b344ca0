// Package raster gives access to georeferenced rasters: metadata, pixel values
// and clipping to a region of interest.
package raster

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// GeoTransform maps pixel/line coordinates to georeferenced coordinates (GDAL convention):
// X = gt[0] + pixel*gt[1] + line*gt[2]
// Y = gt[3] + pixel*gt[4] + line*gt[5]
type GeoTransform [6]float64

// PixelLine returns the (truncated) pixel and line of a point, for a north-up geotransform
func (gt GeoTransform) PixelLine(lat, lon float64) (int, int) {
	return int((lon - gt[0]) / gt[1]), int((lat - gt[3]) / gt[5])
}

// LonLat returns the coordinates of the top-left corner of the pixel, for a north-up geotransform
func (gt GeoTransform) LonLat(pixel, line int) (float64, float64) {
	return gt[0] + float64(pixel)*gt[1], gt[3] + float64(line)*gt[5]
}

// Info describes a raster dataset
type Info struct {
	Width, Length int
	Bands         int
	GeoTransform  GeoTransform
}

// Corners returns the extent spanned by the top-left corners of the first and the last pixels.
func (i Info) Corners() (minLon, minLat, maxLon, maxLat float64) {
	lon0, lat0 := i.GeoTransform.LonLat(0, 0)
	lon1, lat1 := i.GeoTransform.LonLat(i.Width-1, i.Length-1)
	return math.Min(lon0, lon1), math.Min(lat0, lat1), math.Max(lon0, lon1), math.Max(lat0, lat1)
}

// Grid is a band of a raster loaded in memory (rows are lines, columns are pixels)
type Grid struct {
	*mat.Dense
	GeoTransform GeoTransform
}

// NewGrid creates a Grid of length x width pixels.
// If data is not nil, it must have length*width elements (row-major).
func NewGrid(length, width int, data []float64, gt GeoTransform) (*Grid, error) {
	if length <= 0 || width <= 0 {
		return nil, fmt.Errorf("NewGrid: invalid size %dx%d", width, length)
	}
	if data != nil && len(data) != length*width {
		return nil, fmt.Errorf("NewGrid: expecting %d values, got %d", length*width, len(data))
	}
	return &Grid{Dense: mat.NewDense(length, width, data), GeoTransform: gt}, nil
}

// Size returns the width (number of pixels) and the length (number of lines) of the grid
func (g *Grid) Size() (int, int) {
	r, c := g.Dims()
	return c, r
}

// Lats returns the latitude of each line
func (g *Grid) Lats() []float64 {
	_, length := g.Size()
	lats := make([]float64, length)
	for i := range lats {
		_, lats[i] = g.GeoTransform.LonLat(0, i)
	}
	return lats
}

// Lons returns the longitude of each pixel
func (g *Grid) Lons() []float64 {
	width, _ := g.Size()
	lons := make([]float64, width)
	for i := range lons {
		lons[i], _ = g.GeoTransform.LonLat(i, 0)
	}
	return lons
}
