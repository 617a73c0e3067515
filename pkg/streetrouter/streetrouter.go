// Package streetrouter defines the walking-leg collaborator OneToAllSearch
// and ConnectionMaterializer query: given two points, can you walk
// between them, and how long does it take. Like timetableview, this
// module only supplies a reference implementation; a production street
// network is a separate system.
package streetrouter

import (
	"context"
	"math"
	"time"

	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

const earthRadiusMetres = 6371000

// Path is a walking leg between two stops.
type Path struct {
	From     *tpmodel.Stop
	To       *tpmodel.Stop
	Distance float64
	Duration time.Duration
}

// StreetRouter resolves a walking leg between two stops, or reports none
// exists within whatever distance bound the implementation enforces.
type StreetRouter interface {
	// Walk returns the walking path from `from`, departing at departAt,
	// to `to`. The second return is false if no walk is possible (too
	// far, or the implementation has no street data for the area).
	Walk(ctx context.Context, from, to *tpmodel.Stop, departAt time.Time) (Path, bool)
}

// Haversine walking-speed router: estimates distance as great-circle
// distance between stop coordinates and duration from a fixed walking
// speed, bounded by MaxDistanceMetres. It ignores departAt and ctx; it
// exists so builds and tests can run without a real street network.
type HaversineRouter struct {
	// WalkSpeedMetresPerSecond defaults to 1.4 (a typical pedestrian
	// speed) when zero.
	WalkSpeedMetresPerSecond float64

	// MaxDistanceMetres bounds how far HaversineRouter will report a
	// walk is possible; beyond it, Walk returns false.
	MaxDistanceMetres float64
}

func NewHaversineRouter(maxDistanceMetres float64) *HaversineRouter {
	return &HaversineRouter{
		WalkSpeedMetresPerSecond: 1.4,
		MaxDistanceMetres:        maxDistanceMetres,
	}
}

func (r *HaversineRouter) Walk(_ context.Context, from, to *tpmodel.Stop, _ time.Time) (Path, bool) {
	distance := haversineMetres(from.Latitude, from.Longitude, to.Latitude, to.Longitude)

	if distance > r.MaxDistanceMetres {
		return Path{}, false
	}

	speed := r.WalkSpeedMetresPerSecond
	if speed == 0 {
		speed = 1.4
	}

	return Path{
		From:     from,
		To:       to,
		Distance: distance,
		Duration: time.Duration(distance/speed) * time.Second,
	}, true
}

func haversineMetres(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	deltaPhi := (lat2 - lat1) * math.Pi / 180
	deltaLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMetres * c
}
