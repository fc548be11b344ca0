package metadata

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"gonum.org/v1/gonum/spatial/r3"
)

// Ancillary gathers the sensor-specific attributes of an interferogram (first burst)
type Ancillary struct {
	Wavelength float64
	HeadingDeg float64
	SensingMid time.Time
}

// CenterLineUTC returns the number of seconds between the midnight and the mid-burst time
func (a Ancillary) CenterLineUTC() int {
	y, m, d := a.SensingMid.Date()
	return int(a.SensingMid.Sub(time.Date(y, m, d, 0, 0, 0, 0, a.SensingMid.Location())).Seconds())
}

// xmlComponent is a node of an ISCE xml product
type xmlComponent struct {
	Name       string         `xml:"name,attr"`
	Properties []xmlProperty  `xml:"property"`
	Components []xmlComponent `xml:"component"`
}

type xmlProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

// find returns the first component named name (depth-first search)
func (c *xmlComponent) find(name string) *xmlComponent {
	for i := range c.Components {
		if strings.EqualFold(c.Components[i].Name, name) {
			return &c.Components[i]
		}
	}
	for i := range c.Components {
		if sub := c.Components[i].find(name); sub != nil {
			return sub
		}
	}
	return nil
}

func (c *xmlComponent) property(name string) (string, error) {
	for _, p := range c.Properties {
		if strings.EqualFold(p.Name, name) {
			return strings.TrimSpace(p.Value), nil
		}
	}
	return "", fmt.Errorf("property %s not found in %s", name, c.Name)
}

func (c *xmlComponent) float(name string) (float64, error) {
	v, err := c.property(name)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("property %s: %w", name, err)
	}
	return f, nil
}

func (c *xmlComponent) time(name string) (time.Time, error) {
	v, err := c.property(name)
	if err != nil {
		return time.Time{}, err
	}
	t, err := dateparse.ParseIn(v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("property %s: %w", name, err)
	}
	return t, nil
}

func (c *xmlComponent) vector(name string) (r3.Vec, error) {
	v, err := c.property(name)
	if err != nil {
		return r3.Vec{}, err
	}
	parts := strings.Split(strings.Trim(v, "[]() "), ",")
	if len(parts) != 3 {
		return r3.Vec{}, fmt.Errorf("property %s: expecting 3 values, got %q", name, v)
	}
	var xyz [3]float64
	for i, p := range parts {
		if xyz[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64); err != nil {
			return r3.Vec{}, fmt.Errorf("property %s: %w", name, err)
		}
	}
	return r3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

// DecodeAncillary reads the ancillary attributes of the first burst of an ISCE interferogram product
func DecodeAncillary(r io.Reader) (Ancillary, error) {
	var root xmlComponent
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return Ancillary{}, fmt.Errorf("DecodeAncillary: %w", err)
	}
	bursts := root.find("bursts")
	if bursts == nil || len(bursts.Components) == 0 {
		return Ancillary{}, fmt.Errorf("DecodeAncillary: no burst found")
	}
	burst := &bursts.Components[0]

	var anc Ancillary
	var err error
	if anc.Wavelength, err = burst.float("radarwavelength"); err != nil {
		return Ancillary{}, fmt.Errorf("DecodeAncillary: %w", err)
	}
	if anc.SensingMid, err = burst.time("sensingmid"); err != nil {
		return Ancillary{}, fmt.Errorf("DecodeAncillary: %w", err)
	}
	orbit, err := decodeOrbit(burst.find("orbit"))
	if err != nil {
		return Ancillary{}, fmt.Errorf("DecodeAncillary.%w", err)
	}
	if anc.HeadingDeg, err = orbit.ENUHeading(anc.SensingMid); err != nil {
		return Ancillary{}, fmt.Errorf("DecodeAncillary.%w", err)
	}
	return anc, nil
}

// StateVector is the position and velocity (ECEF, m and m/s) of the satellite at a given time
type StateVector struct {
	Time     time.Time
	Position r3.Vec
	Velocity r3.Vec
}

// Orbit is a list of state vectors sorted by time
type Orbit []StateVector

func decodeOrbit(c *xmlComponent) (Orbit, error) {
	if c == nil {
		return nil, fmt.Errorf("decodeOrbit: no orbit found")
	}
	svs := c.find("state_vectors")
	if svs == nil {
		return nil, fmt.Errorf("decodeOrbit: no state vectors found")
	}
	var orbit Orbit
	for i := range svs.Components {
		sv := &svs.Components[i]
		var s StateVector
		var err error
		if s.Time, err = sv.time("time"); err != nil {
			return nil, fmt.Errorf("decodeOrbit: %w", err)
		}
		if s.Position, err = sv.vector("position"); err != nil {
			return nil, fmt.Errorf("decodeOrbit: %w", err)
		}
		if s.Velocity, err = sv.vector("velocity"); err != nil {
			return nil, fmt.Errorf("decodeOrbit: %w", err)
		}
		orbit = append(orbit, s)
	}
	sort.Slice(orbit, func(i, j int) bool { return orbit[i].Time.Before(orbit[j].Time) })
	return orbit, nil
}

// Interpolate returns the state vector at t, linearly interpolated between the two surrounding state vectors
func (o Orbit) Interpolate(t time.Time) (StateVector, error) {
	if len(o) == 0 {
		return StateVector{}, fmt.Errorf("Interpolate: empty orbit")
	}
	if t.Before(o[0].Time) || t.After(o[len(o)-1].Time) {
		return StateVector{}, fmt.Errorf("Interpolate: %v is out of the orbit [%v, %v]", t, o[0].Time, o[len(o)-1].Time)
	}
	i := sort.Search(len(o), func(i int) bool { return !o[i].Time.Before(t) })
	if o[i].Time.Equal(t) {
		return o[i], nil
	}
	prev, next := o[i-1], o[i]
	w := float64(t.Sub(prev.Time)) / float64(next.Time.Sub(prev.Time))
	return StateVector{
		Time:     t,
		Position: r3.Add(r3.Scale(1-w, prev.Position), r3.Scale(w, next.Position)),
		Velocity: r3.Add(r3.Scale(1-w, prev.Velocity), r3.Scale(w, next.Velocity)),
	}, nil
}

// WGS84 ellipsoid
const (
	wgs84A  = 6378137.0
	wgs84E2 = 0.0066943799901
)

// ENUHeading returns the heading (degrees clockwise from the north) of the satellite at t
func (o Orbit) ENUHeading(t time.Time) (float64, error) {
	sv, err := o.Interpolate(t)
	if err != nil {
		return 0, fmt.Errorf("ENUHeading.%w", err)
	}
	lat, lon := geodetic(sv.Position)
	v := sv.Velocity
	east := -math.Sin(lon)*v.X + math.Cos(lon)*v.Y
	north := -math.Sin(lat)*math.Cos(lon)*v.X - math.Sin(lat)*math.Sin(lon)*v.Y + math.Cos(lat)*v.Z
	return math.Atan2(east, north) * 180 / math.Pi, nil
}

// geodetic returns the WGS84 latitude and longitude (radians) of an ECEF position (Bowring)
func geodetic(p r3.Vec) (float64, float64) {
	b := wgs84A * math.Sqrt(1-wgs84E2)
	ep2 := (wgs84A*wgs84A - b*b) / (b * b)
	rho := math.Hypot(p.X, p.Y)
	theta := math.Atan2(p.Z*wgs84A, rho*b)
	sin, cos := math.Sincos(theta)
	lat := math.Atan2(p.Z+ep2*b*sin*sin*sin, rho-wgs84E2*wgs84A*cos*cos*cos)
	return lat, math.Atan2(p.Y, p.X)
}
