package workflow

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/JaimeStill/arbor/pkg/formatting"
)

// Request is a classification request as received from a caller. Images
// are data URIs ("data:image/jpeg;base64,...") or bare base64.
type Request struct {
	Images    []string `json:"images"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Image is a decoded request image.
type Image struct {
	Data     []byte
	MimeType string
	Ext      string
}

// Name derives the storage item name from the image content, so identical
// images map to identical keys.
func (img Image) Name() string {
	sum := sha256.Sum256(img.Data)
	return hex.EncodeToString(sum[:]) + img.Ext
}

// Encoded returns the image as bare base64 for the recognition service.
func (img Image) Encoded() string {
	return base64.StdEncoding.EncodeToString(img.Data)
}

// Validate checks coordinates and decodes every image. All failures wrap
// ErrInvalidRequest.
func (r Request) Validate(limits Limits) ([]Image, error) {
	if len(r.Images) == 0 {
		return nil, fmt.Errorf("%w: at least one image is required", ErrInvalidRequest)
	}
	if limits.MaxImages > 0 && len(r.Images) > limits.MaxImages {
		return nil, fmt.Errorf("%w: at most %d images allowed", ErrInvalidRequest, limits.MaxImages)
	}
	if r.Latitude != nil && (*r.Latitude < -90 || *r.Latitude > 90) {
		return nil, fmt.Errorf("%w: latitude must be within [-90, 90]", ErrInvalidRequest)
	}
	if r.Longitude != nil && (*r.Longitude < -180 || *r.Longitude > 180) {
		return nil, fmt.Errorf("%w: longitude must be within [-180, 180]", ErrInvalidRequest)
	}

	images := make([]Image, len(r.Images))
	for i, raw := range r.Images {
		img, err := decodeImage(raw, limits.MaxImageSize)
		if err != nil {
			return nil, fmt.Errorf("%w: image %d: %w", ErrInvalidRequest, i+1, err)
		}
		images[i] = img
	}
	return images, nil
}

func decodeImage(raw string, maxSize int64) (Image, error) {
	payload := strings.TrimSpace(raw)

	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		meta, data, found := strings.Cut(rest, ",")
		if !found {
			return Image{}, fmt.Errorf("malformed data uri")
		}
		if !strings.HasSuffix(meta, ";base64") {
			return Image{}, fmt.Errorf("data uri must be base64 encoded")
		}
		payload = data
	}

	data, err := decodeBase64(payload)
	if err != nil {
		return Image{}, err
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("empty image")
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return Image{}, fmt.Errorf("image exceeds %s", formatting.FormatBytes(maxSize, 0))
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return Image{}, fmt.Errorf("unsupported content type %s", mt.String())
	}

	return Image{
		Data:     data,
		MimeType: mt.String(),
		Ext:      mt.Extension(),
	}, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t', ' ':
			return -1
		}
		return r
	}, s)

	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	data, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return data, nil
}
