// Package attachments turns files into message content and back.
package attachments

import (
	"encoding/base64"
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/markdave123-py/SupraChat/internal/models"
)

// ErrNotDataURI is returned when content is not a base64 data URI.
var ErrNotDataURI = errors.New("attachments: content is not a base64 data URI")

// EncodeDataURI renders data as "data:<mime>;base64,<payload>".
func EncodeDataURI(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI is the inverse of EncodeDataURI.
func DecodeDataURI(uri string) (contentType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, ErrNotDataURI
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return "", nil, ErrNotDataURI
	}
	contentType = strings.TrimSuffix(header, ";base64")
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, err
	}
	return contentType, data, nil
}

// Classify maps a MIME type to a message type: image/* is an image,
// everything else a file.
func Classify(contentType string) models.MessageType {
	if strings.HasPrefix(contentType, "image/") {
		return models.MessageImage
	}
	return models.MessageFile
}

// DetectContentType uses the file extension first and sniffs the bytes when
// the extension is unknown.
func DetectContentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
			return mediaType
		}
		return ct
	}
	ct := http.DetectContentType(data)
	if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
		return mediaType
	}
	return ct
}
