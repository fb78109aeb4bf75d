package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newTestMongoStore(t *testing.T) *MongoStore {
	t.Helper()
	requireMongo(t)

	ctx := context.Background()
	store := NewMongoStore(testDB)
	_, err := store.collection.DeleteMany(ctx, bson.M{})
	require.NoError(t, err)
	require.NoError(t, store.EnsureIndexes(ctx))
	return store
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 1, ClampLimit(-5))
	assert.Equal(t, 1, ClampLimit(0))
	assert.Equal(t, 50, ClampLimit(50))
	assert.Equal(t, MaxHistoryLimit, ClampLimit(MaxHistoryLimit))
	assert.Equal(t, MaxHistoryLimit, ClampLimit(10_000))
}

func TestMongoStore_Append(t *testing.T) {
	store := newTestMongoStore(t)
	ctx := context.Background()
	author := primitive.NewObjectID()

	msg, err := store.Append(ctx, NewMessage{Content: "hello", UserName: "ada", AuthorID: author})
	require.NoError(t, err)

	assert.False(t, msg.ID.IsZero())
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "ada", msg.UserName)
	assert.Equal(t, author, msg.AuthorID)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.Equal(t, msg.CreatedAt, msg.UpdatedAt)

	var found ChatMessage
	require.NoError(t, store.collection.FindOne(ctx, bson.M{"_id": msg.ID}).Decode(&found))
	assert.Equal(t, msg.Content, found.Content)
	assert.Equal(t, msg.AuthorID, found.AuthorID)
	assert.True(t, msg.CreatedAt.Equal(found.CreatedAt))
}

func TestMongoStore_AppendRejectsIncompleteMessages(t *testing.T) {
	store := newTestMongoStore(t)
	ctx := context.Background()

	tests := []NewMessage{
		{Content: "", UserName: "ada", AuthorID: primitive.NewObjectID()},
		{Content: "hi", UserName: "", AuthorID: primitive.NewObjectID()},
		{Content: "hi", UserName: "ada"},
	}
	for i, in := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			_, err := store.Append(ctx, in)
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}

	count, err := store.collection.CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMongoStore_ListRecentOldestFirst(t *testing.T) {
	store := newTestMongoStore(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	author := primitive.NewObjectID()
	for i := 1; i <= 5; i++ {
		_, err := store.Append(ctx, NewMessage{Content: fmt.Sprintf("m%d", i), UserName: "ada", AuthorID: author})
		require.NoError(t, err)
	}

	msgs, err := store.ListRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m3", msgs[0].Content)
	assert.Equal(t, "m4", msgs[1].Content)
	assert.Equal(t, "m5", msgs[2].Content)

	all, err := store.ListRecent(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, "m1", all[0].Content)
}

func TestMongoStore_ListRecentClampsLimit(t *testing.T) {
	store := newTestMongoStore(t)
	ctx := context.Background()
	author := primitive.NewObjectID()

	for i := 0; i < 3; i++ {
		_, err := store.Append(ctx, NewMessage{Content: fmt.Sprint(i), UserName: "ada", AuthorID: author})
		require.NoError(t, err)
	}

	msgs, err := store.ListRecent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "2", msgs[0].Content)
}

func TestMongoStore_ListRecentEmpty(t *testing.T) {
	store := newTestMongoStore(t)

	msgs, err := store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMongoStore_AppendCancelledContext(t *testing.T) {
	store := newTestMongoStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Append(ctx, NewMessage{Content: "hi", UserName: "ada", AuthorID: primitive.NewObjectID()})

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "append", perr.Op)
}
