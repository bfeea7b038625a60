package common

import (
	"encoding/base64"
	"fmt"
)

// EncodePageToken wraps an opaque storage cursor as a URL-safe token.
func EncodePageToken(cursor []byte) string {
	return base64.RawURLEncoding.EncodeToString(cursor)
}

// DecodePageToken recovers the storage cursor from a token.
func DecodePageToken(token string) ([]byte, error) {
	cursor, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode page token: %w", err)
	}
	return cursor, nil
}
