// Package mongo stores events in MongoDB collections. A unique index on
// (aggregate type, aggregate id, sequence number) detects concurrent
// appends.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/heianxing/axon-demo/core/es"
)

type document struct {
	EventID        string `bson:"_id"`
	AggregateType  string `bson:"aggregate_type"`
	AggregateID    string `bson:"aggregate_id"`
	SequenceNumber int64  `bson:"sequence_number"`
	TimeStamp      int64  `bson:"time_stamp"` // unix nanos, bson dates stop at millis
	PayloadType    string `bson:"payload_type"`
	Payload        []byte `bson:"payload"`
}

func toDocument(r es.Record) document {
	return document{
		EventID:        r.EventID,
		AggregateType:  r.AggregateType,
		AggregateID:    r.AggregateID,
		SequenceNumber: r.SequenceNumber,
		TimeStamp:      r.Timestamp.UnixNano(),
		PayloadType:    r.PayloadType,
		Payload:        r.Payload,
	}
}

func (d document) record() es.Record {
	return es.Record{
		EventID:        d.EventID,
		AggregateType:  d.AggregateType,
		AggregateID:    d.AggregateID,
		SequenceNumber: d.SequenceNumber,
		Timestamp:      time.Unix(0, d.TimeStamp).UTC(),
		PayloadType:    d.PayloadType,
		Payload:        d.Payload,
	}
}

func streamFilter(aggType, aggID string) bson.D {
	return bson.D{{Key: "aggregate_type", Value: aggType}, {Key: "aggregate_id", Value: aggID}}
}

// Backend implements [es.Backend] on two collections. Units of work running
// in a session transaction (see [TxManager]) are joined.
type Backend struct {
	client    *mongo.Client
	events    *mongo.Collection
	snapshots *mongo.Collection
	log       *slog.Logger
}

// New uses the collections of db. Call EnsureIndexes before the first append.
func New(db *mongo.Database, opts ...Option) *Backend {
	cfg := newOpts(opts...)
	return &Backend{
		client:    db.Client(),
		events:    db.Collection(cfg.events),
		snapshots: db.Collection(cfg.snapshots),
		log:       cfg.log.With(slog.String("db", db.Name()), slog.String("collection", cfg.events)),
	}
}

// Open connects to uri, pings the server and creates the indexes.
func Open(ctx context.Context, uri, database string, opts ...Option) (*Backend, error) {
	timeout := newOpts(opts...).timeout
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	b := New(client.Database(database), opts...)
	if err := b.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return b, nil
}

// EnsureIndexes creates the uniqueness and scan indexes.
func (b *Backend) EnsureIndexes(ctx context.Context) error {
	unique := mongo.IndexModel{
		Keys: bson.D{
			{Key: "aggregate_type", Value: 1},
			{Key: "aggregate_id", Value: 1},
			{Key: "sequence_number", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	scan := mongo.IndexModel{
		Keys: bson.D{
			{Key: "time_stamp", Value: 1},
			{Key: "sequence_number", Value: 1},
			{Key: "_id", Value: 1},
		},
	}
	if _, err := b.events.Indexes().CreateMany(ctx, []mongo.IndexModel{unique, scan}); err != nil {
		return fmt.Errorf("create event indexes: %w", err)
	}
	if _, err := b.snapshots.Indexes().CreateOne(ctx, unique); err != nil {
		return fmt.Errorf("create snapshot index: %w", err)
	}
	b.log.Debug("indexes ready")
	return nil
}

func (b *Backend) Client() *mongo.Client { return b.client }

// TxManager returns a transaction manager over the backend's client.
func (b *Backend) TxManager() *TxManager { return NewTxManager(b.client, nil) }

func (b *Backend) Close(ctx context.Context) error { return b.client.Disconnect(ctx) }

// InsertEvents inserts in order. Outside a transaction, records inserted
// before a failing one are deleted again.
func (b *Backend) InsertEvents(ctx context.Context, recs []es.Record) error {
	if len(recs) == 0 {
		return nil
	}
	ctx, inTx := sessionContext(ctx)

	docs := make([]any, len(recs))
	for i, rec := range recs {
		docs[i] = toDocument(rec)
	}
	_, err := b.events.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err == nil {
		return nil
	}

	failed := 0
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) && len(bwe.WriteErrors) > 0 {
		failed = bwe.WriteErrors[0].Index
	}
	if !inTx && failed > 0 {
		ids := make([]string, failed)
		for i := range failed {
			ids[i] = recs[i].EventID
		}
		if _, delErr := b.events.DeleteMany(context.WithoutCancel(ctx), bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}}); delErr != nil {
			b.log.Error("failed to undo partial insert", slog.Any("error", delErr), slog.Int("records", failed))
		}
	}
	return &es.RecordError{Record: recs[failed], Err: err}
}

func (b *Backend) ReadEvents(ctx context.Context, aggType, aggID string, firstSeq int64, limit int) ([]es.Record, error) {
	ctx, _ = sessionContext(ctx)
	filter := append(streamFilter(aggType, aggID),
		bson.E{Key: "sequence_number", Value: bson.D{{Key: "$gte", Value: firstSeq}}})
	cur, err := b.events.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "sequence_number", Value: 1}}).
		SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	out := make([]es.Record, len(docs))
	for i, d := range docs {
		out[i] = d.record()
	}
	return out, nil
}

// InsertSnapshot replaces snapshots at or below the sequence number of rec.
func (b *Backend) InsertSnapshot(ctx context.Context, rec es.Record) error {
	ctx, _ = sessionContext(ctx)
	prune := append(streamFilter(rec.AggregateType, rec.AggregateID),
		bson.E{Key: "sequence_number", Value: bson.D{{Key: "$lte", Value: rec.SequenceNumber}}})
	if _, err := b.snapshots.DeleteMany(ctx, prune); err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	if _, err := b.snapshots.InsertOne(ctx, toDocument(rec)); err != nil {
		return &es.RecordError{Record: rec, Err: err}
	}
	return nil
}

func (b *Backend) LatestSnapshot(ctx context.Context, aggType, aggID string) (es.Record, bool, error) {
	ctx, _ = sessionContext(ctx)
	var doc document
	err := b.snapshots.FindOne(ctx, streamFilter(aggType, aggID),
		options.FindOne().SetSort(bson.D{{Key: "sequence_number", Value: -1}})).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return es.Record{}, false, nil
	case err != nil:
		return es.Record{}, false, fmt.Errorf("latest snapshot: %w", err)
	}
	return doc.record(), true, nil
}

// ScanEvents streams one cursor over all events, fetching batchSize
// documents per round trip.
func (b *Backend) ScanEvents(ctx context.Context, batchSize int, fn func([]es.Record) error) error {
	ctx, _ = sessionContext(ctx)
	cur, err := b.events.Find(ctx, bson.D{}, options.Find().
		SetSort(bson.D{{Key: "time_stamp", Value: 1}, {Key: "sequence_number", Value: 1}, {Key: "_id", Value: 1}}).
		SetBatchSize(int32(batchSize)))
	if err != nil {
		return fmt.Errorf("scan events: %w", err)
	}
	defer func() { _ = cur.Close(context.WithoutCancel(ctx)) }()

	page := make([]es.Record, 0, batchSize)
	for cur.Next(ctx) {
		var doc document
		if err := cur.Decode(&doc); err != nil {
			return fmt.Errorf("scan events: %w", err)
		}
		page = append(page, doc.record())
		if len(page) == batchSize {
			if err := fn(page); err != nil {
				return err
			}
			page = make([]es.Record, 0, batchSize)
		}
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("scan events: %w", err)
	}
	if len(page) > 0 {
		return fn(page)
	}
	return nil
}

func (b *Backend) IsDuplicateKey(err error) bool { return mongo.IsDuplicateKeyError(err) }

var _ es.Backend = (*Backend)(nil)
