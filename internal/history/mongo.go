package history

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fleetwatch/internal/alerts"
	"fleetwatch/internal/errors"
	"fleetwatch/internal/fleet"
)

const (
	samplesCollection     = "host_samples"
	transitionsCollection = "alert_transitions"
)

// MongoStore persists history in MongoDB, one document per host sample and
// per alert transition.
type MongoStore struct {
	client   *mongo.Client
	database string
}

// NewMongoStore connects to MongoDB, verifies the connection, and ensures the
// query indexes exist.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrStore,
			"Failed to connect to MongoDB",
			"Check history.uri in your config")
	}

	if err := client.Ping(cctx, nil); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrStore,
			"Failed to ping MongoDB",
			"Is the MongoDB server running?")
	}

	s := &MongoStore{client: client, database: database}

	indexCtx, indexCancel := context.WithTimeout(ctx, 10*time.Second)
	defer indexCancel()
	_, err = s.samples().Indexes().CreateOne(indexCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "host", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrStore,
			"Failed to create host_samples index", "")
	}
	_, err = s.transitions().Indexes().CreateOne(indexCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "host", Value: 1}, {Key: "at", Value: -1}},
	})
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrStore,
			"Failed to create alert_transitions index", "")
	}

	return s, nil
}

func (s *MongoStore) samples() *mongo.Collection {
	return s.client.Database(s.database).Collection(samplesCollection)
}

func (s *MongoStore) transitions() *mongo.Collection {
	return s.client.Database(s.database).Collection(transitionsCollection)
}

// SaveSnapshot appends one sample document per host.
func (s *MongoStore) SaveSnapshot(ctx context.Context, snap *fleet.Snapshot) error {
	samples := SamplesFromSnapshot(snap)
	if len(samples) == 0 {
		return nil
	}

	docs := make([]interface{}, len(samples))
	for i, sample := range samples {
		docs[i] = sample
	}

	if _, err := s.samples().InsertMany(ctx, docs); err != nil {
		return errors.WrapWithCode(err, errors.ErrStore,
			"Failed to insert host samples", "")
	}
	return nil
}

// SaveEvents appends alert transition documents.
func (s *MongoStore) SaveEvents(ctx context.Context, events []alerts.Event) error {
	if len(events) == 0 {
		return nil
	}

	transitions := TransitionsFromEvents(events)
	docs := make([]interface{}, len(transitions))
	for i, tr := range transitions {
		docs[i] = tr
	}

	if _, err := s.transitions().InsertMany(ctx, docs); err != nil {
		return errors.WrapWithCode(err, errors.ErrStore,
			"Failed to insert alert transitions", "")
	}
	return nil
}

// HostSamples returns one host's samples since a point in time, oldest first.
func (s *MongoStore) HostSamples(ctx context.Context, host string, since time.Time) ([]HostSample, error) {
	filter := bson.M{
		"host":      host,
		"timestamp": bson.M{"$gte": since},
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})

	cursor, err := s.samples().Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrStore,
			"Failed to query host samples", "")
	}
	defer cursor.Close(ctx)

	var results []HostSample
	if err := cursor.All(ctx, &results); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrStore,
			"Failed to decode host samples", "")
	}
	return results, nil
}

// RecentTransitions returns the newest transitions, newest first.
func (s *MongoStore) RecentTransitions(ctx context.Context, host string, limit int) ([]Transition, error) {
	filter := bson.M{}
	if host != "" {
		filter["host"] = host
	}

	opts := options.Find().SetSort(bson.D{{Key: "at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}

	cursor, err := s.transitions().Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrStore,
			"Failed to query alert transitions", "")
	}
	defer cursor.Close(ctx)

	var results []Transition
	if err := cursor.All(ctx, &results); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrStore,
			"Failed to decode alert transitions", "")
	}
	return results, nil
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

var _ Store = (*MongoStore)(nil)
