package message

import (
	"encoding/json"
	"time"
)

// Message is one queued message. Timestamp is Unix epoch milliseconds on
// the sender's clock.
type Message struct {
	Timestamp int64           `json:"timestamp"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Data      json.RawMessage `json:"data"`
}

// SentAt returns Timestamp as a time.
func (m Message) SentAt() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// decodeQueue splits a stored queue into raw entries. Entries stay raw so
// messages for other recipients are written back byte for byte.
func decodeQueue(data []byte) ([]json.RawMessage, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func encodeQueue(entries []json.RawMessage) ([]byte, error) {
	if entries == nil {
		entries = []json.RawMessage{}
	}
	return json.Marshal(entries)
}
