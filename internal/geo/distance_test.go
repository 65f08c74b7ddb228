package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	delhi     = Point{Lat: 28.6139, Lon: 77.2090}
	mumbai    = Point{Lat: 19.0760, Lon: 72.8777}
	hyderabad = Point{Lat: 17.3850, Lon: 78.4867}
)

func TestDistanceToSelfIsZero(t *testing.T) {
	for _, p := range []Point{delhi, mumbai, {Lat: -33.86, Lon: 151.21}, {}} {
		assert.Equal(t, 0.0, Between(p, p))
	}
}

func TestDistanceIsSymmetric(t *testing.T) {
	assert.InDelta(t, Between(delhi, mumbai), Between(mumbai, delhi), 1e-9)
	assert.InDelta(t, Between(hyderabad, delhi), Between(delhi, hyderabad), 1e-9)
}

func TestDistanceDelhiMumbai(t *testing.T) {
	d := DistanceKm(delhi.Lat, delhi.Lon, mumbai.Lat, mumbai.Lon)
	assert.GreaterOrEqual(t, d, 1150.0)
	assert.LessOrEqual(t, d, 1200.0)
}

func TestDistanceAntipodalIsFinite(t *testing.T) {
	d := DistanceKm(0, 0, 0, 180)
	assert.InDelta(t, 20015.0, d, 1.0)
}

func TestSortByDistance(t *testing.T) {
	type center struct {
		name string
		at   Point
	}
	centers := []center{
		{"mumbai", mumbai},
		{"hyderabad", hyderabad},
		{"delhi", delhi},
	}

	origin := Point{Lat: 28.50, Lon: 77.10} // south Delhi
	dists := SortByDistance(origin, centers, func(c center) Point { return c.at })

	require.Len(t, dists, 3)
	assert.Equal(t, "delhi", centers[0].name)
	assert.Equal(t, "mumbai", centers[1].name)
	assert.Equal(t, "hyderabad", centers[2].name)
	assert.True(t, dists[0] <= dists[1] && dists[1] <= dists[2])

	// moving the user re-ranks the same slice
	SortByDistance(mumbai, centers, func(c center) Point { return c.at })
	assert.Equal(t, "mumbai", centers[0].name)
	assert.Equal(t, "hyderabad", centers[1].name)
}
