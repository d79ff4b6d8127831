package catalog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() *Catalog {
	c := New()
	t0 := time.Date(2021, 3, 14, 1, 59, 26, 0, time.UTC)
	c.AddEvent(Event{ID: 1, Time: t0, Lat: 46.50, Lon: 8.10, Depth: 5.0, Magnitude: 2.1})
	c.AddEvent(Event{ID: 2, Time: t0.Add(time.Minute), Lat: 46.51, Lon: 8.11, Depth: 5.5, Magnitude: 1.8})
	c.AddStation(Station{ID: "CH.AAA.", Lat: 46.60, Lon: 8.00, Elev: 1200.,
		NetworkCode: "CH", StationCode: "AAA"})
	c.AddPhase(Phase{EventID: 1, StationID: "CH.AAA.", Time: t0.Add(3 * time.Second),
		LowerUncertainty: 0.02, UpperUncertainty: 0.02, Type: P,
		NetworkCode: "CH", StationCode: "AAA", ChannelCode: "HHZ", EvalMode: Manual})
	c.ComputeCartesians()
	return c
}

func TestCentroidAndProjection(t *testing.T) {
	c := testCatalog()
	lat, lon, depth := c.Centroid()
	assert.InDelta(t, 46.505, lat, 1e-12)
	assert.InDelta(t, 8.105, lon, 1e-12)
	assert.InDelta(t, 5.25, depth, 1e-12)

	// events flank the centroid symmetrically
	e1, e2 := c.Events[1], c.Events[2]
	assert.InDelta(t, -e2.Y, e1.Y, 1e-9)
	assert.InDelta(t, -e2.Z, e1.Z, 1e-9)

	// station z is negated elevation relative to centroid depth
	sta := c.Stations["CH.AAA."]
	assert.InDelta(t, -1.2-5.25, sta.Z, 1e-9)
}

func TestUpdateEventKeepsCartesianInSync(t *testing.T) {
	c := testCatalog()
	ev := c.Events[1]
	x0, y0, z0 := ev.X, ev.Y, ev.Z
	t0 := ev.Time
	c.UpdateEvent(1, 0.001, 0., 0.2, 0.5)
	assert.True(t, ev.Relocated)
	assert.InDelta(t, x0, ev.X, 1e-9)                  // lon unchanged
	assert.InDelta(t, y0+0.1111949266, ev.Y, 1e-6)     // +0.001 deg ≈ 111 m north
	assert.InDelta(t, z0+0.2, ev.Z, 1e-9)
	assert.Equal(t, 500*time.Millisecond, ev.Time.Sub(t0))
}

func TestPickWeights(t *testing.T) {
	w := func(u float64) float64 {
		p := Phase{LowerUncertainty: u, UpperUncertainty: u}
		return p.Weight()
	}
	assert.Equal(t, 1., w(0.01))
	assert.Equal(t, .8, w(0.04))
	assert.Equal(t, .6, w(0.08))
	assert.Equal(t, .4, w(0.15))
	assert.Equal(t, .2, w(0.3))
	assert.Equal(t, .1, w(2.))
}

func TestCsvRoundTrip(t *testing.T) {
	dir := t.TempDir()
	evFP := filepath.Join(dir, "event.csv")
	staFP := filepath.Join(dir, "station.csv")
	phFP := filepath.Join(dir, "phase.csv")

	c := testCatalog()
	require.NoError(t, c.Save(evFP, staFP, phFP))

	c2, err := Load(evFP, staFP, phFP)
	require.NoError(t, err)
	require.Len(t, c2.Events, 2)
	require.Len(t, c2.Stations, 1)
	require.Len(t, c2.Phases[1], 1)

	e1, e2 := c.Events[1], c2.Events[1]
	assert.InDelta(t, e1.Lat, e2.Lat, 1e-12)
	assert.InDelta(t, e1.Lon, e2.Lon, 1e-12)
	assert.InDelta(t, e1.Depth, e2.Depth, 1e-12)
	assert.True(t, e1.Time.Equal(e2.Time))

	ph := c2.Phases[1][0]
	assert.Equal(t, P, ph.Type)
	assert.Equal(t, Manual, ph.EvalMode)
	assert.Equal(t, "HHZ", ph.ChannelCode)
}

func TestInvalidInputPanics(t *testing.T) {
	c := testCatalog()
	assert.Panics(t, func() { c.AddEvent(Event{ID: 1}) })
	assert.Panics(t, func() { c.AddPhase(Phase{EventID: 99, StationID: "CH.AAA."}) })
	assert.Panics(t, func() { c.UpdateEvent(99, 0, 0, 0, 0) })
}
