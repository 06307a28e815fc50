// Package monitor holds the pure parts of a monitoring pass: page
// fingerprinting, change detection and recommendation matching.
package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"unicode/utf8"

	"driftwatch/internal/models"
)

// Fingerprint returns the lowercase hex SHA-256 of the snapshot's canonical
// serialization. Fields are written in a fixed order (title, description,
// body), each prefixed by its byte length, so no two distinct snapshots share
// a serialization. Content is hashed as fetched, without normalization.
func Fingerprint(s models.PageSnapshot) (string, error) {
	fields := [...]struct {
		name  string
		value string
	}{
		{"title", s.Title},
		{"description", s.Description},
		{"body", s.Body},
	}

	h := sha256.New()
	for _, f := range fields {
		if !utf8.ValidString(f.value) {
			return "", fmt.Errorf("%w: %s is not valid utf-8", models.ErrDecodeFailure, f.name)
		}
		h.Write([]byte(f.name))
		h.Write([]byte{':'})
		h.Write([]byte(strconv.Itoa(len(f.value))))
		h.Write([]byte{':'})
		h.Write([]byte(f.value))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// BaselineOf digests each snapshot field separately.
func BaselineOf(s models.PageSnapshot) models.Baseline {
	return models.Baseline{
		TitleHash:       digest(s.Title),
		DescriptionHash: digest(s.Description),
		BodyHash:        digest(s.Body),
		BodyLength:      utf8.RuneCountInString(s.Body),
	}
}

func digest(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}
