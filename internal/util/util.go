// Package util holds small helpers shared by the pipeline and the postgres stores.
package util

import (
	"time"

	"github.com/goccy/go-json"
)

// UTCDay truncates t to midnight UTC of its calendar day in UTC.
func UTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MarshalJSON encodes v for a PostgreSQL JSONB column. A nil value encodes as SQL NULL.
func MarshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON decodes a JSONB column into v, ignoring NULL.
func UnmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
