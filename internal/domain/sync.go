package domain

// SyncPayload is the body of a create or update push.
type SyncPayload struct {
	Child *Fields       `json:"child"`
	Media []MediaUpload `json:"media,omitempty"`
}

// MediaUpload carries an asset the server does not hold yet. Data is
// base64-encoded on the wire.
type MediaUpload struct {
	Key         string    `json:"key" validate:"required"`
	Kind        MediaKind `json:"kind" validate:"required,oneof=photo audio"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"data" validate:"required"`
}

// Histories decodes the pending history list carried in Child.
func (p *SyncPayload) Histories() []any {
	if p == nil || p.Child == nil {
		return nil
	}
	v, ok := p.Child.Get(KeyHistories)
	if !ok || v == nil {
		return nil
	}
	switch list := v.(type) {
	case []any:
		return list
	case []HistoryEntry:
		out := make([]any, len(list))
		for i, h := range list {
			out[i] = h
		}
		return out
	}
	return nil
}
