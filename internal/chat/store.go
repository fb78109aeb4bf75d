package chat

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionName  = "messages"
	MaxHistoryLimit = 200
)

// Store is the durable chat history.
type Store interface {
	// Append persists one message and returns it with id and timestamps set.
	Append(ctx context.Context, msg NewMessage) (*ChatMessage, error)
	// ListRecent returns the newest limit messages ordered oldest to newest.
	ListRecent(ctx context.Context, limit int) ([]ChatMessage, error)
}

// ClampLimit bounds a requested history size to [1, MaxHistoryLimit].
func ClampLimit(limit int) int {
	switch {
	case limit < 1:
		return 1
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

type MongoStore struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		collection: db.Collection(CollectionName),
		now:        time.Now,
	}
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
	})
	if err != nil {
		return errors.Wrap(err, "create messages index")
	}
	return nil
}

func (s *MongoStore) Append(ctx context.Context, in NewMessage) (*ChatMessage, error) {
	if strings.TrimSpace(in.Content) == "" || in.UserName == "" || in.AuthorID.IsZero() {
		return nil, ErrInvalidMessage
	}

	// Mongo keeps millisecond precision; truncate so the returned record
	// matches what a later read sees.
	now := s.now().UTC().Truncate(time.Millisecond)
	msg := &ChatMessage{
		ID:        primitive.NewObjectID(),
		Content:   in.Content,
		UserName:  in.UserName,
		AuthorID:  in.AuthorID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := s.collection.InsertOne(ctx, msg); err != nil {
		return nil, &PersistenceError{Op: "append", Err: errors.Wrap(err, "insert chat message")}
	}
	return msg, nil
}

func (s *MongoStore) ListRecent(ctx context.Context, limit int) ([]ChatMessage, error) {
	limit = ClampLimit(limit)

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: errors.Wrap(err, "find recent messages")}
	}
	defer cursor.Close(ctx)

	msgs := make([]ChatMessage, 0, limit)
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, &PersistenceError{Op: "list", Err: errors.Wrap(err, "decode recent messages")}
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
