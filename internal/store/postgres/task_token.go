package postgres

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfeidau/churnrunner/internal/store"
)

const taskTokenVersion = "v1"

// taskToken identifies one claim of a job. The receipt handle changes on every dequeue,
// so a token from an expired claim can no longer complete the job.
// Encoded as base64url(version|job_id|queue|receipt_handle|hmac_sha256).
type taskToken struct {
	JobID         uuid.UUID
	Queue         string
	ReceiptHandle uuid.UUID
}

func (s *JobStore) sign(payload string) string {
	h := hmac.New(sha256.New, s.cfg.TokenSigningSecret)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// encodeTaskToken creates a signed stateless task token.
func (s *JobStore) encodeTaskToken(tt taskToken) string {
	data := fmt.Sprintf("%s|%s|%s|%s", taskTokenVersion, tt.JobID, tt.Queue, tt.ReceiptHandle)
	signed := data + "|" + s.sign(data)
	return base64.URLEncoding.EncodeToString([]byte(signed))
}

// decodeTaskToken verifies the signature and extracts the token components.
func (s *JobStore) decodeTaskToken(token string) (*taskToken, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: token cannot be empty", store.ErrInvalidTaskToken)
	}

	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid encoding: %v", store.ErrInvalidTaskToken, err)
	}

	parts := strings.Split(string(data), "|")
	if len(parts) != 5 {
		return nil, fmt.Errorf("%w: expected 5 parts, got %d", store.ErrInvalidTaskToken, len(parts))
	}
	version, rawJobID, queue, rawReceipt, providedSig := parts[0], parts[1], parts[2], parts[3], parts[4]

	if version != taskTokenVersion {
		return nil, fmt.Errorf("%w: unsupported version %s (expected %s)", store.ErrInvalidTaskToken, version, taskTokenVersion)
	}

	expectedSig := s.sign(strings.Join(parts[:4], "|"))
	if !hmac.Equal([]byte(expectedSig), []byte(providedSig)) {
		return nil, fmt.Errorf("%w: invalid signature", store.ErrInvalidTaskToken)
	}

	jobID, err := uuid.Parse(rawJobID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid job id", store.ErrInvalidTaskToken)
	}
	receipt, err := uuid.Parse(rawReceipt)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid receipt handle", store.ErrInvalidTaskToken)
	}
	if queue == "" {
		return nil, fmt.Errorf("%w: empty queue", store.ErrInvalidTaskToken)
	}

	return &taskToken{JobID: jobID, Queue: queue, ReceiptHandle: receipt}, nil
}
