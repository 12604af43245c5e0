package nats

import (
	"cmp"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/heianxing/axon-demo/core/es"
)

const (
	defaultEventsBucket    = "axon_events"
	defaultSnapshotsBucket = "axon_snapshots"

	// snapshot updates racing each other are retried this often
	maxSnapshotAttempts = 8

	// set on the delete and purge markers of a key-value stream
	kvOperationHeader = "KV-Operation"
)

type BackendConfig struct {
	Connect         Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log             *slog.Logger // Log for diagnostics (optional)
	EventsBucket    string       // EventsBucket holds one key per event
	SnapshotsBucket string       // SnapshotsBucket holds the newest snapshot per aggregate
	Storage         jetstream.StorageType
	Replicas        int
}

// Backend implements [es.Backend] on two JetStream key-value buckets.
//
// Events live under "<type>.<id>.<seq>" with both names base64url encoded and
// the sequence number zero padded, so one aggregate's keys sort by sequence.
// Events are written with Create, which fails with [jetstream.ErrKeyExists]
// when another writer claimed the sequence number first.
type Backend struct {
	closeNc      closeFunc
	js           jetstream.JetStream
	eventsStream string
	events       jetstream.KeyValue
	snapshots    jetstream.KeyValue
	log          *slog.Logger
}

func NewBackend(ctx context.Context, cfg BackendConfig) (*Backend, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}

	b, err := newBackend(ctx, nc, cfg)
	if err != nil {
		closeNc()
		return nil, err
	}
	b.closeNc = closeNc
	return b, nil
}

func newBackend(ctx context.Context, nc *natsgo.Conn, cfg BackendConfig) (*Backend, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	eventsBucket := cmp.Or(cfg.EventsBucket, defaultEventsBucket)
	snapshotsBucket := cmp.Or(cfg.SnapshotsBucket, defaultSnapshotsBucket)
	log = log.With(
		slog.String("store", "nats_kv"),
		slog.String("bucket", eventsBucket),
	)

	log.Debug("ensuring buckets")

	events, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      eventsBucket,
		Description: "event log, one key per event",
		History:     1,
		Storage:     cfg.Storage,
		Replicas:    cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure bucket %s: %w", eventsBucket, err)
	}
	snapshots, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      snapshotsBucket,
		Description: "newest snapshot per aggregate",
		History:     1,
		Storage:     cfg.Storage,
		Replicas:    cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure bucket %s: %w", snapshotsBucket, err)
	}

	return &Backend{
		closeNc:      func() {},
		js:           js,
		eventsStream: "KV_" + eventsBucket,
		events:       events,
		snapshots:    snapshots,
		log:          log,
	}, nil
}

func (b *Backend) Close() error {
	b.closeNc()
	b.log.Debug("closed backend")
	return nil
}

// --- keys ---

func encodeName(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

func streamKey(aggType, aggID string) string {
	return encodeName(aggType) + "." + encodeName(aggID)
}

func eventKey(aggType, aggID string, seq int64) string {
	return fmt.Sprintf("%s.%019d", streamKey(aggType, aggID), seq)
}

// --- events ---

// InsertEvents creates one key per record. When a record fails, keys
// created for earlier records are purged again.
func (b *Backend) InsertEvents(ctx context.Context, recs []es.Record) error {
	for i, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return &es.RecordError{Record: rec, Err: err}
		}
		if _, err := b.events.Create(ctx, eventKey(rec.AggregateType, rec.AggregateID, rec.SequenceNumber), data); err != nil {
			b.undo(ctx, recs[:i])
			return &es.RecordError{Record: rec, Err: err}
		}
	}
	return nil
}

func (b *Backend) undo(ctx context.Context, recs []es.Record) {
	ctx = context.WithoutCancel(ctx)
	for _, rec := range recs {
		if err := b.events.Purge(ctx, eventKey(rec.AggregateType, rec.AggregateID, rec.SequenceNumber)); err != nil {
			b.log.Error("failed to undo partial insert", slog.Any("error", err),
				slog.Group("agg", slog.String("type", rec.AggregateType), slog.String("id", rec.AggregateID)),
				slog.Int64("seq", rec.SequenceNumber),
			)
		}
	}
}

// ReadEvents walks keys from firstSeq until the first missing one.
func (b *Backend) ReadEvents(ctx context.Context, aggType, aggID string, firstSeq int64, limit int) ([]es.Record, error) {
	var out []es.Record
	for seq := firstSeq; len(out) < limit; seq++ {
		entry, err := b.events.Get(ctx, eventKey(aggType, aggID, seq))
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get event %d: %w", seq, err)
		}
		var rec es.Record
		if err := json.Unmarshal(entry.Value(), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode event %d: %w", seq, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ScanEvents reads the stream behind the events bucket with an ordered
// consumer, at most batchSize messages per fetch. Stream order is append order; it
// matches timestamp order except for writers racing within clock skew.
// Delete and purge markers left by undone inserts are skipped. The scan
// stops at the last message present when it started.
func (b *Backend) ScanEvents(ctx context.Context, batchSize int, fn func([]es.Record) error) error {
	stream, err := b.js.Stream(ctx, b.eventsStream)
	if err != nil {
		return fmt.Errorf("failed to get stream %s: %w", b.eventsStream, err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	last := info.State.LastSeq
	if info.State.Msgs == 0 {
		return nil
	}

	cons, err := b.js.OrderedConsumer(ctx, b.eventsStream, jetstream.OrderedConsumerConfig{
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := cons.FetchNoWait(batchSize)
		if err != nil {
			return fmt.Errorf("failed to fetch events: %w", err)
		}

		page := make([]es.Record, 0, batchSize)
		var (
			seen    int
			reached bool
		)
		for msg := range batch.Messages() {
			seen++
			meta, err := msg.Metadata()
			if err != nil {
				return fmt.Errorf("failed to read metadata: %w", err)
			}
			if meta.Sequence.Stream >= last {
				reached = true
			}
			if msg.Headers().Get(kvOperationHeader) != "" {
				continue
			}
			var rec es.Record
			if err := json.Unmarshal(msg.Data(), &rec); err != nil {
				return fmt.Errorf("failed to decode %s: %w", msg.Subject(), err)
			}
			page = append(page, rec)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) {
			return fmt.Errorf("failed to fetch events: %w", err)
		}

		if len(page) > 0 {
			if err := fn(page); err != nil {
				return err
			}
		}
		if reached || seen == 0 {
			return nil
		}
	}
}

// --- snapshots ---

// InsertSnapshot keeps the snapshot with the highest sequence number. The
// bucket is updated with compare-and-set so racing writers cannot replace a
// newer snapshot with an older one.
func (b *Backend) InsertSnapshot(ctx context.Context, rec es.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &es.RecordError{Record: rec, Err: err}
	}
	key := streamKey(rec.AggregateType, rec.AggregateID)

	for range maxSnapshotAttempts {
		entry, err := b.snapshots.Get(ctx, key)
		switch {
		case errors.Is(err, jetstream.ErrKeyNotFound):
			_, err = b.snapshots.Create(ctx, key, data)
		case err != nil:
			return &es.RecordError{Record: rec, Err: err}
		default:
			var current es.Record
			if err := json.Unmarshal(entry.Value(), &current); err == nil && current.SequenceNumber > rec.SequenceNumber {
				b.log.Debug("newer snapshot present", slog.Int64("seq", rec.SequenceNumber), slog.Int64("current", current.SequenceNumber))
				return nil
			}
			_, err = b.snapshots.Update(ctx, key, data, entry.Revision())
		}
		if err == nil {
			return nil
		}
		if !isWrongRevision(err) {
			return &es.RecordError{Record: rec, Err: err}
		}
	}
	return &es.RecordError{Record: rec, Err: fmt.Errorf("%w: snapshot key %s kept changing", es.ErrConcurrency, key)}
}

func isWrongRevision(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func (b *Backend) LatestSnapshot(ctx context.Context, aggType, aggID string) (es.Record, bool, error) {
	entry, err := b.snapshots.Get(ctx, streamKey(aggType, aggID))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return es.Record{}, false, nil
	}
	if err != nil {
		return es.Record{}, false, fmt.Errorf("failed to get snapshot: %w", err)
	}
	var rec es.Record
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return es.Record{}, false, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return rec, true, nil
}

func (b *Backend) IsDuplicateKey(err error) bool { return errors.Is(err, jetstream.ErrKeyExists) }

var _ es.Backend = (*Backend)(nil)
