package remote

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope selects the list response shape a backend speaks. A client is
// configured with exactly one; shapes are never sniffed per response.
type Envelope int

const (
	// EnvelopeSpring is {content, totalSize, totalPages, number, size}.
	EnvelopeSpring Envelope = iota
	// EnvelopeLegacy is {content, total, page, size}.
	EnvelopeLegacy
)

func (e Envelope) String() string {
	switch e {
	case EnvelopeLegacy:
		return "legacy"
	default:
		return "spring"
	}
}

// ParseEnvelope maps a configuration value to an Envelope.
func ParseEnvelope(s string) (Envelope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "spring":
		return EnvelopeSpring, nil
	case "legacy":
		return EnvelopeLegacy, nil
	}
	return EnvelopeSpring, fmt.Errorf("unknown envelope %q (want spring or legacy)", s)
}

// PageResult is the normalized list response.
type PageResult[D any] struct {
	Content    []D
	TotalSize  int
	TotalPages int
	Number     int
	Size       int
}

type springEnvelope[D any] struct {
	Content    []D `json:"content"`
	TotalSize  int `json:"totalSize"`
	TotalPages int `json:"totalPages"`
	Number     int `json:"number"`
	Size       int `json:"size"`
	Pageable   *struct {
		PageNumber int `json:"pageNumber"`
		PageSize   int `json:"pageSize"`
	} `json:"pageable"`
}

type legacyEnvelope[D any] struct {
	Content []D `json:"content"`
	Total   int `json:"total"`
	Page    int `json:"page"`
	Size    int `json:"size"`
}

func decodeEnvelope[D any](env Envelope, body []byte) (*PageResult[D], error) {
	switch env {
	case EnvelopeLegacy:
		var le legacyEnvelope[D]
		if err := json.Unmarshal(body, &le); err != nil {
			return nil, fmt.Errorf("decode list envelope: %w", err)
		}
		return &PageResult[D]{
			Content:    le.Content,
			TotalSize:  le.Total,
			TotalPages: PageCount(le.Total, le.Size),
			Number:     le.Page,
			Size:       le.Size,
		}, nil
	default:
		var se springEnvelope[D]
		if err := json.Unmarshal(body, &se); err != nil {
			return nil, fmt.Errorf("decode list envelope: %w", err)
		}
		res := &PageResult[D]{
			Content:    se.Content,
			TotalSize:  se.TotalSize,
			TotalPages: se.TotalPages,
			Number:     se.Number,
			Size:       se.Size,
		}
		if se.Pageable != nil {
			if res.Size == 0 {
				res.Size = se.Pageable.PageSize
			}
			if res.Number == 0 {
				res.Number = se.Pageable.PageNumber
			}
		}
		if res.TotalPages == 0 {
			res.TotalPages = PageCount(res.TotalSize, res.Size)
		}
		return res, nil
	}
}

// PageCount is ceil(total/size); a non-positive size yields 0.
func PageCount(total, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}
