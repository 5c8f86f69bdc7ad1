package dispatch

import (
	"math"
	"sort"

	"github.com/panashe-dev/kombi-go/internal/domain/models"
)

const (
	EarthRadiusKm = 6371.0

	// DefaultRadiusKm bounds driver-side trip discovery.
	DefaultRadiusKm = 25.0
)

// Candidate is anything with a coordinate that can be ranked against an origin.
type Candidate struct {
	ID       string
	Location models.Location
}

// Match is a candidate that survived the radius bound, with its distance attached.
type Match struct {
	Candidate
	DistanceKm float64
}

func degreesToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// Distance calculates the Haversine distance between two geographic points.
func Distance(a, b models.Location) float64 {
	lat1Rad := degreesToRadians(a.Lat)
	lon1Rad := degreesToRadians(a.Lng)
	lat2Rad := degreesToRadians(b.Lat)
	lon2Rad := degreesToRadians(b.Lng)

	deltaLat := lat2Rad - lat1Rad
	deltaLon := lon2Rad - lon1Rad

	h := math.Pow(math.Sin(deltaLat/2), 2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Pow(math.Sin(deltaLon/2), 2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

// FilterByProximity returns the candidates within radiusKm of origin, sorted
// ascending by great-circle distance. Ties keep original arrival order.
// The function is pure: identical inputs always produce identical output.
func FilterByProximity(origin models.Location, candidates []Candidate, radiusKm float64) []Match {
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		d := Distance(origin, c.Location)
		if d > radiusKm {
			continue
		}
		matches = append(matches, Match{Candidate: c, DistanceKm: d})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].DistanceKm < matches[j].DistanceKm
	})

	return matches
}
