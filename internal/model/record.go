package model

import (
	"encoding/json"
	"time"
)

// EventRecord is an admitted event kept in the local event log.
// Content holds the compressed event content.
type EventRecord struct {
	ID          string `gorm:"primaryKey;not null"`
	DocumentID  string `gorm:"not null;index:idx_event_records_document_id"`
	Seq         int64  `gorm:"not null;default:0;index:idx_event_records_seq"`
	Kind        int    `gorm:"not null"`
	PubKey      string `gorm:"not null"`
	EventTime   int64  `gorm:"not null"`
	Tags        string `gorm:"not null"`
	Content     []byte
	Sig         string `gorm:"not null"`
	Compression string
	StoredAt    time.Time `gorm:"autoCreateTime"`
}

func (EventRecord) TableName() string {
	return "event_records"
}

// NewEventRecord converts an event into a record. The content is stored as given.
func NewEventRecord(docID string, seq int64, ev *Event, content []byte, compression string) (*EventRecord, error) {
	tags, err := json.Marshal(ev.Tags)
	if err != nil {
		return nil, err
	}

	return &EventRecord{
		ID:          ev.ID,
		DocumentID:  docID,
		Seq:         seq,
		Kind:        ev.Kind,
		PubKey:      ev.PubKey,
		EventTime:   ev.CreatedAt,
		Tags:        string(tags),
		Content:     content,
		Sig:         ev.Sig,
		Compression: compression,
	}, nil
}

// IntoEvent rebuilds the event using the already decoded content.
func (r *EventRecord) IntoEvent(content []byte) (*Event, error) {
	var tags Tags
	if err := json.Unmarshal([]byte(r.Tags), &tags); err != nil {
		return nil, err
	}

	return &Event{
		ID:        r.ID,
		PubKey:    r.PubKey,
		CreatedAt: r.EventTime,
		Kind:      r.Kind,
		Tags:      tags,
		Content:   string(content),
		Sig:       r.Sig,
	}, nil
}

// Cursor remembers the last changes-feed sequence applied locally.
type Cursor struct {
	Name      string `gorm:"primaryKey;not null"`
	Seq       int64  `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

func (Cursor) TableName() string {
	return "cursors"
}
