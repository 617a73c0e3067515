package timetableview

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

// mongoStop and mongoTripPattern mirror the `stops` and `trip_patterns`
// collection documents database.createIndexes indexes.
type mongoStop struct {
	PrimaryIdentifier string  `bson:"primaryidentifier"`
	Name              string  `bson:"name"`
	Latitude          float64 `bson:"latitude"`
	Longitude         float64 `bson:"longitude"`
}

type mongoTripPattern struct {
	Code      string          `bson:"code"`
	StopRefs  []string        `bson:"stops"`
	Timetable []mongoTripTime `bson:"timetable"`
}

type mongoTripTime struct {
	ServiceID string          `bson:"serviceid"`
	StopTimes []mongoStopTime `bson:"stoptimes"`
}

type mongoStopTime struct {
	ArrivalSecs   int `bson:"arrivalsecs"`
	DepartureSecs int `bson:"departuresecs"`
}

// LoadFromMongo reads the full `stops` and `trip_patterns` collections of
// database and assembles an InMemory view over them. A build loads once
// at startup; this package has no notion of incremental refresh, since a
// build always runs against one fixed timetable snapshot.
func LoadFromMongo(ctx context.Context, database *mongo.Database, serviceDate time.Time) (*InMemory, error) {
	stopsByRef, stops, err := loadStops(ctx, database)
	if err != nil {
		return nil, err
	}

	tripPatterns, err := loadTripPatterns(ctx, database, stopsByRef)
	if err != nil {
		return nil, err
	}

	return NewInMemory(stops, tripPatterns, serviceDate), nil
}

func loadStops(ctx context.Context, database *mongo.Database) (map[string]*tpmodel.Stop, []*tpmodel.Stop, error) {
	cursor, err := database.Collection("stops").Find(ctx, bson.M{})
	if err != nil {
		return nil, nil, err
	}
	defer cursor.Close(ctx)

	stopsByRef := map[string]*tpmodel.Stop{}
	var stops []*tpmodel.Stop

	index := 0
	for cursor.Next(ctx) {
		var doc mongoStop
		if err := cursor.Decode(&doc); err != nil {
			return nil, nil, err
		}

		stop := &tpmodel.Stop{
			PrimaryIdentifier: doc.PrimaryIdentifier,
			Name:              doc.Name,
			Latitude:          doc.Latitude,
			Longitude:         doc.Longitude,
			Index:             index,
		}

		stopsByRef[stop.PrimaryIdentifier] = stop
		stops = append(stops, stop)
		index++
	}

	return stopsByRef, stops, cursor.Err()
}

func loadTripPatterns(ctx context.Context, database *mongo.Database, stopsByRef map[string]*tpmodel.Stop) ([]*tpmodel.TripPattern, error) {
	cursor, err := database.Collection("trip_patterns").Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var tripPatterns []*tpmodel.TripPattern

	for cursor.Next(ctx) {
		var doc mongoTripPattern
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}

		stops := make([]*tpmodel.Stop, 0, len(doc.StopRefs))
		for _, ref := range doc.StopRefs {
			stops = append(stops, stopsByRef[ref])
		}

		timetable := make(tpmodel.Timetable, 0, len(doc.Timetable))
		for _, trip := range doc.Timetable {
			stopTimes := make([]tpmodel.StopTime, 0, len(trip.StopTimes))
			for _, st := range trip.StopTimes {
				stopTimes = append(stopTimes, tpmodel.StopTime{
					ArrivalSecs:   st.ArrivalSecs,
					DepartureSecs: st.DepartureSecs,
				})
			}
			timetable = append(timetable, tpmodel.TripTimes{ServiceID: trip.ServiceID, StopTimes: stopTimes})
		}

		tripPatterns = append(tripPatterns, &tpmodel.TripPattern{
			Code:      doc.Code,
			Stops:     stops,
			Timetable: timetable,
		})
	}

	return tripPatterns, cursor.Err()
}
