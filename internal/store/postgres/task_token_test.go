package postgres

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/churnrunner/internal/store"
)

func testJobStore(secret string) *JobStore {
	return &JobStore{cfg: &JobStoreConfig{TokenSigningSecret: []byte(secret)}}
}

func TestTaskTokenRoundTrip(t *testing.T) {
	s := testJobStore("0123456789abcdef0123456789abcdef")
	want := taskToken{JobID: uuid.Must(uuid.NewV7()), Queue: "pipeline", ReceiptHandle: uuid.New()}

	got, err := s.decodeTaskToken(s.encodeTaskToken(want))
	require.NoError(t, err)
	require.Equal(t, want, *got)
}

func TestTaskTokenRejectsTampering(t *testing.T) {
	s := testJobStore("0123456789abcdef0123456789abcdef")
	token := s.encodeTaskToken(taskToken{JobID: uuid.New(), Queue: "pipeline", ReceiptHandle: uuid.New()})

	raw, err := base64.URLEncoding.DecodeString(token)
	require.NoError(t, err)
	tampered := base64.URLEncoding.EncodeToString([]byte(strings.Replace(string(raw), "pipeline", "other", 1)))

	tests := map[string]string{
		"empty":        "",
		"not base64":   "%%%",
		"wrong parts":  base64.URLEncoding.EncodeToString([]byte("v1|a|b")),
		"tampered":     tampered,
		"other secret": testJobStore("fedcba9876543210fedcba9876543210").encodeTaskToken(taskToken{JobID: uuid.New(), Queue: "pipeline", ReceiptHandle: uuid.New()}),
	}

	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := s.decodeTaskToken(tok)
			require.ErrorIs(t, err, store.ErrInvalidTaskToken)
		})
	}
}
