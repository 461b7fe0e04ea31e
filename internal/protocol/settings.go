package protocol

import "time"

// Settings holds the connection and per-request timeouts of a Client.
type Settings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PublishTimeout   time.Duration
	ChangesTimeout   time.Duration
	LastSeqTimeout   time.Duration
	// SendBufferSize is the number of outbound frames queued before writers block.
	SendBufferSize int
}

func DefaultSettings() *Settings {
	return &Settings{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		PublishTimeout:   10 * time.Second,
		ChangesTimeout:   30 * time.Second,
		LastSeqTimeout:   10 * time.Second,
		SendBufferSize:   64,
	}
}
