package image

import (
	"encoding/base64"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMediaType is used when neither the caller nor content sniffing names a type.
const DefaultMediaType = "image/jpeg"

const (
	dataURIScheme = "data:"
	base64Marker  = ";base64"
)

// Encode returns the bare base64 payload, dropping a "data:<type>;base64," prefix if present.
// Payloads that are already bare are returned unchanged.
func Encode(raw string) string {
	_, payload := ParseDataURI(raw)
	return payload
}

// ToDataURI attaches a media-type prefix to a bare base64 payload.
func ToDataURI(payload, mediaType string) string {
	if strings.TrimSpace(mediaType) == "" {
		mediaType = DefaultMediaType
	}
	return dataURIScheme + mediaType + base64Marker + "," + payload
}

// ParseDataURI splits a base64 data URI into its media type and payload.
// Anything else, including data URIs without ";base64", is returned as-is with
// an empty media type.
func ParseDataURI(raw string) (mediaType, payload string) {
	if !strings.HasPrefix(raw, dataURIScheme) {
		return "", raw
	}
	// base64 负载不含逗号，参数里可能有
	comma := strings.LastIndexByte(raw, ',')
	if comma < 0 {
		return "", raw
	}
	header := raw[len(dataURIScheme):comma]
	if !strings.HasSuffix(strings.ToLower(header), base64Marker) {
		return "", raw
	}
	header = header[:len(header)-len(base64Marker)]
	if semi := strings.IndexByte(header, ';'); semi >= 0 {
		header = header[:semi]
	}
	return strings.ToLower(strings.TrimSpace(header)), raw[comma+1:]
}

// DecodeBase64 accepts standard, unpadded and URL-safe alphabets.
func DecodeBase64(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		data, err := enc.DecodeString(payload)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// DetectMediaType sniffs image content. Non-image content yields "".
func DetectMediaType(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	mtype := mimetype.Detect(data)
	for m := mtype; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			return m.String()
		}
	}
	return ""
}

// ResolveMediaType picks the declared type when it is an image type, then the
// sniffed type, then DefaultMediaType.
func ResolveMediaType(declared string, data []byte) string {
	declared = normalizeMediaType(declared)
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	if detected := DetectMediaType(data); detected != "" {
		return detected
	}
	return DefaultMediaType
}

// ExtensionFor returns the extension for a scratch copy of the image: the
// original filename's extension if it has one, else one derived from the media type.
func ExtensionFor(mediaType, filename string) string {
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" && len(ext) <= 6 {
		return ext
	}
	if m := mimetype.Lookup(normalizeMediaType(mediaType)); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	return ".jpg"
}

// FormatOf turns "image/png" into "png".
func FormatOf(mediaType string) string {
	mediaType = normalizeMediaType(mediaType)
	if !strings.HasPrefix(mediaType, "image/") {
		return ""
	}
	return strings.TrimPrefix(mediaType, "image/")
}

func normalizeMediaType(mediaType string) string {
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if semi := strings.IndexByte(mediaType, ';'); semi >= 0 {
		mediaType = strings.TrimSpace(mediaType[:semi])
	}
	return mediaType
}
