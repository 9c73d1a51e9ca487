package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}

type Signer interface {
	SignedGetURL(ctx context.Context, objectName string, ttl time.Duration) (string, error)
}

// AudioObjectName is where a recorded answer lives in the bucket.
func AudioObjectName(sessionID, questionID string) string {
	return fmt.Sprintf("interviews/%s/%s.webm", sessionID, questionID)
}
