package sqlstore

import (
	"time"

	"github.com/Tyrowin/gochat/internal/chat"
)

// messageRecord is the persisted form of a chat message. Seq preserves append
// order for messages sharing a timestamp.
type messageRecord struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement"`
	ID         string    `gorm:"size:36;uniqueIndex;not null"`
	Room       string    `gorm:"size:210;not null;index:idx_messages_room_created,priority:1"`
	SenderID   string    `gorm:"size:100;not null"`
	SenderName string    `gorm:"size:100"`
	ReceiverID string    `gorm:"size:100"`
	Content    string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null;index:idx_messages_room_created,priority:2"`
}

// TableName returns the table name for messageRecord.
func (messageRecord) TableName() string {
	return "messages"
}

func toRecord(msg chat.Message) messageRecord {
	return messageRecord{
		ID:         msg.ID,
		Room:       msg.Room,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		CreatedAt:  msg.CreatedAt.UTC(),
	}
}

func (r messageRecord) toMessage() chat.Message {
	return chat.Message{
		ID:         r.ID,
		Room:       r.Room,
		SenderID:   r.SenderID,
		SenderName: r.SenderName,
		ReceiverID: r.ReceiverID,
		Content:    r.Content,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}
