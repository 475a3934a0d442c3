package redis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/GetStream/chat-render/render"
)

// A record is a cached chat record. The indexable fields are stored as hash
// fields; the full record is kept as JSON in data.
type record struct {
	ID   string `redis:"id"`
	Type string `redis:"type"`
	Time int64  `redis:"time"`
	Data string `redis:"data"`
}

func newRecord(rec render.Record) (*record, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return &record{
		ID:   rec.ID,
		Type: string(rec.Type),
		Time: rec.Time.UnixNano(),
		Data: string(data),
	}, nil
}

func (r record) RenderRecord() (render.Record, error) {
	var out render.Record
	if err := json.Unmarshal([]byte(r.Data), &out); err != nil {
		return render.Record{}, fmt.Errorf("unmarshal %s: %w", r.ID, err)
	}
	return out, nil
}

// A retryJob is queued for the delivery worker when a user asks to retry an
// error or info record.
type retryJob struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	From        string    `json:"from,omitempty"`
	Text        string    `json:"text"`
	RequestedAt time.Time `json:"requested_at"`
}
