// Package store is the durable-store collaborator backed by SQLite through
// GORM. It records messages and notifications and allocates the per-room
// monotonic sequence numbers the dispatcher's ordering guarantee rides on.
// A message is written here before it is fanned out.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/campusapps/roomcast/internal/realtime"
)

// Message is the durable record of one room message.
type Message struct {
	ID        string `gorm:"primaryKey"`
	RoomID    string `gorm:"index:idx_room_seq,unique"`
	Sequence  uint64 `gorm:"index:idx_room_seq,unique"`
	Author    string
	Payload   []byte
	CreatedAt time.Time
}

// Notification is the durable record of one per-user notification.
type Notification struct {
	ID        string `gorm:"primaryKey"`
	Recipient string `gorm:"index"`
	Payload   []byte
	CreatedAt time.Time
}

// Store implements realtime.DurableStore over a GORM database handle.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the SQLite database at path and migrates the
// schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return New(db)
}

// New wraps an existing GORM handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Message{}, &Notification{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordMessage persists a message and assigns the next sequence number for
// its room inside a single transaction.
func (s *Store) RecordMessage(ctx context.Context, room realtime.RoomID, author realtime.Identity, payload json.RawMessage) (realtime.MessageRecord, error) {
	msg := Message{
		ID:        uuid.NewString(),
		RoomID:    string(room),
		Author:    string(author),
		Payload:   []byte(payload),
		CreatedAt: time.Now().UTC(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last uint64
		row := tx.Model(&Message{}).
			Where("room_id = ?", msg.RoomID).
			Select("COALESCE(MAX(sequence), 0)").
			Row()
		if err := row.Scan(&last); err != nil {
			return err
		}
		msg.Sequence = last + 1
		return tx.Create(&msg).Error
	})
	if err != nil {
		return realtime.MessageRecord{}, fmt.Errorf("record message: %w", err)
	}

	return messageRecord(msg), nil
}

// RecordNotification persists a per-user notification.
func (s *Store) RecordNotification(ctx context.Context, recipient realtime.Identity, payload json.RawMessage) (realtime.NotificationRecord, error) {
	n := Notification{
		ID:        uuid.NewString(),
		Recipient: string(recipient),
		Payload:   []byte(payload),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		return realtime.NotificationRecord{}, fmt.Errorf("record notification: %w", err)
	}

	return realtime.NotificationRecord{
		ID:        n.ID,
		Recipient: recipient,
		Payload:   payload,
		CreatedAt: n.CreatedAt,
	}, nil
}

// RecentMessages returns up to limit messages for a room in ascending
// sequence order.
func (s *Store) RecentMessages(ctx context.Context, room realtime.RoomID, limit int) ([]realtime.MessageRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	var rows []Message
	err := s.db.WithContext(ctx).
		Where("room_id = ?", string(room)).
		Order("sequence DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}

	out := make([]realtime.MessageRecord, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = messageRecord(row)
	}
	return out, nil
}

func messageRecord(m Message) realtime.MessageRecord {
	return realtime.MessageRecord{
		ID:        m.ID,
		Room:      realtime.RoomID(m.RoomID),
		Author:    realtime.Identity(m.Author),
		Payload:   json.RawMessage(m.Payload),
		Sequence:  m.Sequence,
		CreatedAt: m.CreatedAt,
	}
}
