// Package telemetrystore wraps the Mongo time-series collections that
// back the telemetry collector (spec §4.5, §6): warc_logs, vector_logs,
// index_logs, each time-series on Created_at. The startup-creation
// pattern (ensure schema, then open for writes) is grounded on the
// teacher's store.NewPersistentStore/RunMigrations shape
// (internal/store/store.go, migrate.go), transplanted from SQLite DDL
// migrations to idempotent Mongo collection creation.
package telemetrystore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/frvec/pipeline/internal/logger"
)

// Config bundles the Mongo connection parameters.
type Config struct {
	URI      string
	Database string
}

// collections maps each telemetry step to its destination collection
// and meta field, matching the fixed map of spec §4.5.
var collections = map[string]struct {
	name      string
	metaField string
}{
	"warc":              {name: "warc_logs", metaField: "warc_url"},
	"vector":            {name: "vector_logs", metaField: "url"},
	"index_batch_async": {name: "index_logs", metaField: "machine"},
}

// Store wraps a Mongo database handle scoped to the telemetry
// collections.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *logger.Logger
}

// Connect dials Mongo and ensures every time-series collection named in
// spec §4.5 exists, creating any missing ones (absence of collection is
// not fatal - treat as first-start, same posture as the search index).
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("telemetrystore: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("telemetrystore: ping: %w", err)
	}

	s := &Store{client: client, db: client.Database(cfg.Database), log: log}
	if err := s.ensureCollections(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollections(ctx context.Context) error {
	existing := map[string]bool{}
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("telemetrystore: list collections: %w", err)
	}
	for _, n := range names {
		existing[n] = true
	}

	for _, dest := range collections {
		if existing[dest.name] {
			continue
		}
		tsOpts := options.TimeSeries().
			SetTimeField("Created_at").
			SetMetaField(dest.metaField).
			SetGranularity("seconds")
		opts := options.CreateCollection().SetTimeSeriesOptions(tsOpts)

		if err := s.db.CreateCollection(ctx, dest.name, opts); err != nil {
			return fmt.Errorf("telemetrystore: create collection %s: %w", dest.name, err)
		}
		s.log.Info("telemetrystore: created time-series collection %s", dest.name)
	}
	return nil
}

// CollectionFor returns the destination collection name and meta field
// for step, and whether step is recognized.
func CollectionFor(step string) (name, metaField string, ok bool) {
	dest, ok := collections[step]
	return dest.name, dest.metaField, ok
}

// Insert writes doc into the named collection.
func (s *Store) Insert(ctx context.Context, collection string, doc any) error {
	_, err := s.db.Collection(collection).InsertOne(ctx, doc)
	return err
}

// Close disconnects from Mongo.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
