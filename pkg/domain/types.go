package domain

import (
	"strings"
	"time"
)

// Movie is a code-addressed catalog entry. Parts are kept in creation order.
type Movie struct {
	Code      string    `json:"code"`
	Title     string    `json:"title"`
	Views     int64     `json:"views"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"createdAt"`
}

// DisplayTitle falls back to the code while the movie has no title yet.
func (m Movie) DisplayTitle() string {
	if t := strings.TrimSpace(m.Title); t != "" {
		return t
	}
	return m.Code
}

type Part struct {
	ID          int64     `json:"id"`
	MovieCode   string    `json:"movieCode"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	MediaRef    string    `json:"mediaRef"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MovieSummary is a catalog row without parts, used for listings and statistics.
type MovieSummary struct {
	Code      string `json:"code"`
	Title     string `json:"title"`
	Views     int64  `json:"views"`
	PartCount int    `json:"partCount"`
}

func (m MovieSummary) DisplayTitle() string {
	if t := strings.TrimSpace(m.Title); t != "" {
		return t
	}
	return m.Code
}

// LegacyPart is one entry of a pre-migration parts list.
type LegacyPart struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	MediaRef    string `json:"video"`
}

// LegacyMovie is a pre-migration record. Either MediaRef holds a single inline
// media reference or Parts carries an already split list.
type LegacyMovie struct {
	Code        string       `json:"code"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Views       int64        `json:"views"`
	MediaRef    string       `json:"video"`
	Parts       []LegacyPart `json:"parts"`
}

// CanonicalParts returns the parts the record converts into. A record without a
// parts list yields at most one part built from its inline fields; entries
// without media are skipped.
func (m LegacyMovie) CanonicalParts() []LegacyPart {
	var out []LegacyPart
	if len(m.Parts) == 0 {
		if strings.TrimSpace(m.MediaRef) == "" {
			return nil
		}
		return []LegacyPart{{
			Title:       m.Title,
			Description: m.Description,
			MediaRef:    strings.TrimSpace(m.MediaRef),
		}}
	}
	for _, p := range m.Parts {
		ref := strings.TrimSpace(p.MediaRef)
		if ref == "" {
			continue
		}
		title := p.Title
		if strings.TrimSpace(title) == "" {
			title = m.Title
		}
		out = append(out, LegacyPart{Title: title, Description: p.Description, MediaRef: ref})
	}
	return out
}
