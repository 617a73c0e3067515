// Package query implements the in-process Query API:
// expand a (from, to, time) request into a Pareto-filtered, sorted set of
// materialized journeys, using the precomputed TransferPatternIndex plus
// the live TimetableView and StreetRouter.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/gridhop/transferpatterns/pkg/geoindex"
	"github.com/gridhop/transferpatterns/pkg/materializer"
	"github.com/gridhop/transferpatterns/pkg/pareto"
	"github.com/gridhop/transferpatterns/pkg/pathunfolder"
	"github.com/gridhop/transferpatterns/pkg/streetrouter"
	"github.com/gridhop/transferpatterns/pkg/timetableview"
	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

// Endpoint names a request's origin or destination: either a known Stop
// identity, or a geographic coordinate to resolve via geoindex.
type Endpoint struct {
	Stop *tpmodel.Stop

	HasCoordinate bool
	Latitude      float64
	Longitude     float64
}

// Request is one findJourneys call.
type Request struct {
	From Endpoint
	To   Endpoint

	// DateTime anchors the request; ServiceDate is its midnight, and
	// DepartSecs is its seconds-since-midnight offset.
	DateTime time.Time

	MaxWalkDistanceMetres float64
}

func (r Request) serviceDate() time.Time {
	d := r.DateTime
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
}

func (r Request) departSecs() int {
	d := r.DateTime
	return d.Hour()*3600 + d.Minute()*60 + d.Second()
}

// VertexNotFoundError reports that a requested endpoint has no known
// coordinate or stop identity to resolve.
type VertexNotFoundError struct {
	Endpoint string
}

func (e *VertexNotFoundError) Error() string {
	return fmt.Sprintf("query: VertexNotFound: %s", e.Endpoint)
}

// PathNotFoundError reports that no origin or destination stop exists
// within the walking radius.
type PathNotFoundError struct {
	Endpoint string
}

func (e *PathNotFoundError) Error() string {
	return fmt.Sprintf("query: PathNotFound: no stop near %s within walking radius", e.Endpoint)
}

// Engine answers findJourneys requests against a precomputed index plus
// its two live collaborators.
type Engine struct {
	Index     *tpmodel.TransferPatternIndex
	View      timetableview.TimetableView
	Router    streetrouter.StreetRouter
	GeoIndex  *geoindex.Index
	WalkCache *materializer.WalkCache
}

// FindJourneys expands req into every feasible journey the index and
// live collaborators can materialize, Pareto-filtered and sorted for
// display.
func (e *Engine) FindJourneys(ctx context.Context, req Request) ([]*materializer.Journey, error) {
	fromStops, err := e.resolveEndpoint(req.From, req.MaxWalkDistanceMetres)
	if err != nil {
		return nil, err
	}

	toStops, err := e.resolveEndpoint(req.To, req.MaxWalkDistanceMetres)
	if err != nil {
		return nil, err
	}

	mat := materializer.New(e.Index, e.View, e.Router, e.WalkCache)

	serviceDate := req.serviceDate()
	departSecs := req.departSecs()

	requestOrigin := req.From.Stop
	if requestOrigin == nil && len(fromStops) > 0 {
		requestOrigin = fromStops[0]
	}
	requestDestination := req.To.Stop
	if requestDestination == nil && len(toStops) > 0 {
		requestDestination = toStops[0]
	}

	var journeys []*materializer.Journey

	for _, source := range fromStops {
		for _, target := range toStops {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			pattern, node, ok := e.Index.GetTransferPattern(source, target)
			if !ok {
				continue
			}

			for _, legs := range pathunfolder.Unfold(pattern, node) {
				unfoldedLegs := toUnfoldedLegs(legs)

				journey, err := mat.Materialize(ctx, unfoldedLegs, requestOrigin, requestDestination, serviceDate, departSecs)
				if err != nil {
					continue // per-journey rejection, batch continues
				}

				journeys = append(journeys, journey)
			}
		}
	}

	return pareto.FilterAndSort(journeys), nil
}

func toUnfoldedLegs(legs []pathunfolder.Leg) []pathunfolder.Leg {
	out := make([]pathunfolder.Leg, len(legs))
	copy(out, legs)
	return out
}

// resolveEndpoint turns an Endpoint into the candidate stop set
// materialization should try: the named stop itself, or every stop
// geoindex resolves a coordinate to.
func (e *Engine) resolveEndpoint(ep Endpoint, maxWalkDistanceMetres float64) ([]*tpmodel.Stop, error) {
	if ep.Stop != nil {
		return []*tpmodel.Stop{ep.Stop}, nil
	}

	if !ep.HasCoordinate {
		return nil, &VertexNotFoundError{Endpoint: "no stop or coordinate given"}
	}

	if e.GeoIndex == nil {
		return nil, &VertexNotFoundError{Endpoint: "no geo index configured"}
	}

	stops, err := e.GeoIndex.NearestStops(ep.Latitude, ep.Longitude, maxWalkDistanceMetres)
	if err != nil {
		return nil, err
	}

	if len(stops) == 0 {
		return nil, &PathNotFoundError{Endpoint: fmt.Sprintf("(%f,%f)", ep.Latitude, ep.Longitude)}
	}

	return stops, nil
}
