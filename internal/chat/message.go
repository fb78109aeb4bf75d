package chat

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ChatMessage is one persisted chat line. Messages are immutable once stored.
type ChatMessage struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Content   string             `bson:"content"`
	UserName  string             `bson:"user_name"`
	AuthorID  primitive.ObjectID `bson:"author_id"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

// NewMessage is the input to Store.Append.
type NewMessage struct {
	Content  string
	UserName string
	AuthorID primitive.ObjectID
}

// Identity is the authenticated member behind a connection.
type Identity struct {
	ID          primitive.ObjectID `json:"id"`
	DisplayName string             `json:"displayName"`
}

// MessageRecord is the wire form of a ChatMessage.
type MessageRecord struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	UserName  string    `json:"userName"`
	AuthorID  string    `json:"authorId"`
	CreatedAt time.Time `json:"createdAt"`
}

func (m *ChatMessage) Record() MessageRecord {
	return MessageRecord{
		ID:        m.ID.Hex(),
		Content:   m.Content,
		UserName:  m.UserName,
		AuthorID:  m.AuthorID.Hex(),
		CreatedAt: m.CreatedAt,
	}
}

func records(msgs []ChatMessage) []MessageRecord {
	out := make([]MessageRecord, 0, len(msgs))
	for i := range msgs {
		out = append(out, msgs[i].Record())
	}
	return out
}
