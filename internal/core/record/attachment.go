package record

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var ErrDataURL = errors.New("malformed data url")

// Attachment is a binary payload stored in the attachments map under its id.
// Binary is a base64 data URL.
type Attachment struct {
	Binary      string `json:"binary"`
	ContentType string `json:"contentType"`
}

// NewAttachment encodes data as a data URL.
func NewAttachment(data []byte, contentType string) Attachment {
	return Attachment{
		Binary:      EncodeDataURL(data, contentType),
		ContentType: contentType,
	}
}

// Bytes decodes the payload.
func (a Attachment) Bytes() ([]byte, error) {
	data, _, err := DecodeDataURL(a.Binary)
	return data, err
}

// Record converts a to the generic map form stored in the replica.
func (a Attachment) Record() Record {
	return Record{"binary": a.Binary, "contentType": a.ContentType}
}

// AttachmentFrom reads an attachment from its map form. A missing content type
// is taken from the data URL header.
func AttachmentFrom(v any) (Attachment, error) {
	var r Record
	switch m := v.(type) {
	case Attachment:
		return m, nil
	case Record:
		r = m
	case map[string]any:
		r = m
	default:
		return Attachment{}, fmt.Errorf("attachment: unexpected %T", v)
	}
	a := Attachment{Binary: r.String("binary"), ContentType: r.String("contentType")}
	if a.Binary == "" {
		return Attachment{}, fmt.Errorf("attachment: %w: empty binary", ErrDataURL)
	}
	if a.ContentType == "" {
		_, ct, err := DecodeDataURL(a.Binary)
		if err != nil {
			return Attachment{}, err
		}
		a.ContentType = ct
	}
	return a, nil
}

func EncodeDataURL(data []byte, contentType string) string {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL parses a base64 data URL. A bare base64 string is accepted too.
func DecodeDataURL(s string) ([]byte, string, error) {
	if !strings.HasPrefix(s, "data:") {
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrDataURL, err)
		}
		return data, "", nil
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok {
		return nil, "", ErrDataURL
	}
	contentType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return nil, "", fmt.Errorf("%w: not base64", ErrDataURL)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDataURL, err)
	}
	return data, contentType, nil
}
