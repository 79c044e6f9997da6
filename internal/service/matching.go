package service

import (
	"egg-market/internal/apperr"
	"egg-market/internal/geo"
	"egg-market/internal/models"
)

// Match is the courier picked for a delivery and its distance to the
// destination. Distance is zero when it could not be computed.
type Match struct {
	Courier    models.CourierProfile
	DistanceKm float64
	Located    bool
}

// MatchCourier picks the nearest candidate within radiusKm of dest. When dest
// is unknown, or no candidate has reported a position, the first candidate
// wins. Candidates are expected in a stable order.
func MatchCourier(candidates []models.CourierProfile, dest *geo.Point, radiusKm float64) (*Match, error) {
	if len(candidates) == 0 {
		return nil, apperr.New(apperr.NotFound, "no available courier")
	}
	if dest == nil {
		return &Match{Courier: candidates[0]}, nil
	}

	var best *Match
	located := 0
	for _, c := range candidates {
		pos, ok := geo.PointOf(c.Latitude, c.Longitude)
		if !ok {
			continue
		}
		located++
		d := geo.Haversine(pos, *dest)
		if radiusKm > 0 && d > radiusKm {
			continue
		}
		if best == nil || d < best.DistanceKm {
			best = &Match{Courier: c, DistanceKm: d, Located: true}
		}
	}

	switch {
	case best != nil:
		return best, nil
	case located == 0:
		return &Match{Courier: candidates[0]}, nil
	}
	return nil, apperr.Newf(apperr.NotFound, "no available courier within %.0f km", radiusKm)
}
