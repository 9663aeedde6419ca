package analysis

import (
	"crypto/sha256"
	"encoding/hex"
)

// Request 一次分析请求
type Request struct {
	ImageBytes []byte
	// MediaType 可为空，由内容嗅探补全，最终默认 image/jpeg
	MediaType string
	Filename  string
}

// CacheKey scopes the hex SHA-256 of the image bytes to the backend that
// produced the record, so a persistent cache never answers for another backend.
func CacheKey(backend string, data []byte) string {
	sum := sha256.Sum256(data)
	return backend + ":" + hex.EncodeToString(sum[:])
}
