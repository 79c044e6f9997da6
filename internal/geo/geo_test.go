package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	douala  = Point{Lat: 4.0511, Lon: 9.7679}
	yaounde = Point{Lat: 3.8480, Lon: 11.5021}
)

func TestHaversineZero(t *testing.T) {
	assert.Equal(t, 0.0, Haversine(douala, douala))
}

func TestHaversineSymmetric(t *testing.T) {
	assert.Equal(t, Haversine(douala, yaounde), Haversine(yaounde, douala))
}

func TestHaversineKnownDistance(t *testing.T) {
	// Douala to Yaounde is roughly 194 km as the crow flies.
	assert.InDelta(t, 194.0, Haversine(douala, yaounde), 3.0)

	oneDegree := Haversine(Point{0, 0}, Point{0, 1})
	assert.InDelta(t, 111.19, oneDegree, 0.01)
}

func TestEstimateMinutes(t *testing.T) {
	tests := []struct {
		distance float64
		want     int
	}{
		{5, 15},
		{10, 30},
		{0.1, 1},
		{7.5, 23},
		{0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateMinutes(tt.distance, 20), "distance %v", tt.distance)
	}
	assert.Equal(t, 0, EstimateMinutes(5, 0))
}

func TestPointOf(t *testing.T) {
	lat, lon := 4.0, 9.7
	p, ok := PointOf(&lat, &lon)
	assert.True(t, ok)
	assert.Equal(t, Point{Lat: 4.0, Lon: 9.7}, p)

	_, ok = PointOf(nil, &lon)
	assert.False(t, ok)
}
