package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository is the alternate Repository backend, so a deployment
// can swap its outbox store without touching the producer or publisher.
//
// Mongo has no SELECT ... FOR UPDATE SKIP LOCKED equivalent, so ClaimBatch
// uses a findAndModify-per-document loop (atomic per document via
// FindOneAndUpdate's filter-on-claimed_at), the standard substitute for
// row-level SKIP LOCKED on Mongo.
type MongoRepository struct {
	collection *mongo.Collection
}

type mongoEvent struct {
	ID            uuid.UUID `bson:"_id"`
	AggregateType string    `bson:"aggregate_type"`
	AggregateID   uuid.UUID `bson:"aggregate_id"`
	EventType     string    `bson:"event_type"`
	Payload       []byte    `bson:"payload"`
	Published     bool      `bson:"published"`
	CreatedAt     time.Time `bson:"created_at"`
	PublishedAt   time.Time `bson:"published_at,omitempty"`
	ClaimedAt     time.Time `bson:"claimed_at,omitempty"`
}

// NewMongoRepository constructs a MongoRepository over collection.
func NewMongoRepository(collection *mongo.Collection) *MongoRepository {
	return &MongoRepository{collection: collection}
}

// mongoAppender lets Append accept a mongo.Session-bound context the same
// way it accepts a pgx.Tx; Mongo transactions are expressed via ctx, not a
// handle, so Exec ignores its sql argument and inserts the Event passed
// as args[0].
type mongoAppender struct {
	collection *mongo.Collection
}

// NewMongoAppender wraps collection as an Appender.
func NewMongoAppender(collection *mongo.Collection) Appender {
	return &mongoAppender{collection: collection}
}

func (a *mongoAppender) Exec(ctx context.Context, _ string, args ...any) (int64, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("mongoAppender.Exec: expected an Event argument")
	}
	ev, ok := args[0].(Event)
	if !ok {
		return 0, fmt.Errorf("mongoAppender.Exec: expected an Event argument, got %T", args[0])
	}
	_, err := a.collection.InsertOne(ctx, toMongoEvent(ev))
	if err != nil {
		return 0, err
	}
	return 1, nil
}

func toMongoEvent(ev Event) mongoEvent {
	return mongoEvent{
		ID:            ev.ID,
		AggregateType: ev.AggregateType,
		AggregateID:   ev.AggregateID,
		EventType:     ev.EventType,
		Payload:       ev.Payload,
		Published:     ev.Published,
		CreatedAt:     ev.CreatedAt,
	}
}

func (r *MongoRepository) Append(ctx context.Context, tx Appender, ev Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := tx.Exec(ctx, "", ev)
	if err != nil {
		return fmt.Errorf("append outbox event: %w", err)
	}
	return nil
}

func (r *MongoRepository) ClaimBatch(ctx context.Context, batchSize int, staleAfter time.Duration) ([]Event, error) {
	staleCutoff := time.Now().Add(-staleAfter)
	filter := bson.M{
		"published": false,
		"$or": bson.A{
			bson.M{"claimed_at": bson.M{"$exists": false}},
			bson.M{"claimed_at": bson.M{"$lt": staleCutoff}},
		},
	}
	sort := bson.D{{Key: "created_at", Value: 1}}

	var out []Event
	for len(out) < batchSize {
		var doc mongoEvent
		err := r.collection.FindOneAndUpdate(
			ctx,
			filter,
			bson.M{"$set": bson.M{"claimed_at": time.Now()}},
			options.FindOneAndUpdate().SetSort(sort).SetReturnDocument(options.After),
		).Decode(&doc)
		if err == mongo.ErrNoDocuments {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("claim outbox batch: %w", err)
		}
		out = append(out, fromMongoEvent(doc))
	}
	return out, nil
}

func fromMongoEvent(doc mongoEvent) Event {
	return Event{
		ID:            doc.ID,
		AggregateType: doc.AggregateType,
		AggregateID:   doc.AggregateID,
		EventType:     doc.EventType,
		Payload:       doc.Payload,
		Published:     doc.Published,
		CreatedAt:     doc.CreatedAt,
		PublishedAt:   doc.PublishedAt,
		ClaimedAt:     doc.ClaimedAt,
	}
}

func (r *MongoRepository) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	_, err := r.collection.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"published":    true,
		"published_at": publishedAt,
	}})
	if err != nil {
		return fmt.Errorf("mark outbox event published: %w", err)
	}
	return nil
}

func (r *MongoRepository) RecoverStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := time.Now().Add(-staleAfter)
	res, err := r.collection.UpdateMany(ctx, bson.M{
		"published":  false,
		"claimed_at": bson.M{"$lt": cutoff},
	}, bson.M{"$unset": bson.M{"claimed_at": ""}})
	if err != nil {
		return 0, fmt.Errorf("recover stale outbox events: %w", err)
	}
	return res.ModifiedCount, nil
}

func (r *MongoRepository) PendingCount(ctx context.Context) (int64, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{"published": false})
	if err != nil {
		return 0, fmt.Errorf("count pending outbox events: %w", err)
	}
	return n, nil
}
