package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// Change is one field-level difference. From is "" for an added field and
// To is "" for a removed one.
type Change struct {
	Field string `json:"field"`
	From  any    `json:"from"`
	To    any    `json:"to"`
}

type changeJSON Change

// UnmarshalJSON keeps numeric From and To values as json.Number.
func (c *Change) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var aux changeJSON
	if err := dec.Decode(&aux); err != nil {
		return err
	}
	*c = Change(aux)
	return nil
}

// HistoryEntry is an append-only audit record.
type HistoryEntry struct {
	Timestamp    time.Time `json:"datetime"`
	UserName     string    `json:"user_name"`
	Organisation string    `json:"user_organisation,omitempty"`
	Changes      []Change  `json:"changes"`
}

func (h HistoryEntry) IsEmpty() bool {
	return len(h.Changes) == 0
}

func (h HistoryEntry) Clone() HistoryEntry {
	out := h
	if h.Changes != nil {
		out.Changes = make([]Change, len(h.Changes))
		for i, c := range h.Changes {
			out.Changes[i] = Change{Field: c.Field, From: cloneValue(c.From), To: cloneValue(c.To)}
		}
	}
	return out
}
