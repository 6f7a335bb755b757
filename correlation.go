package connect

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// CorrelationLayers is how many times staff identifiers are wrapped in QR links
const CorrelationLayers = 5

var uriComponentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// EncodeURIComponent escapes s the way browsers escape URI components
func EncodeURIComponent(s string) string {
	return uriComponentUnescaper.Replace(url.QueryEscape(s))
}

// EncodeCorrelationID wraps value layers times, each layer being a URI
// component escape followed by base64
func EncodeCorrelationID(value string, layers int) string {
	out := value
	for i := 0; i < layers; i++ {
		out = base64.StdEncoding.EncodeToString([]byte(EncodeURIComponent(out)))
	}
	return out
}

// DecodeCorrelationID reverses EncodeCorrelationID
func DecodeCorrelationID(value string, layers int) (string, error) {
	out := strings.TrimSpace(value)
	for i := 0; i < layers; i++ {
		raw, err := decodeBase64(out)
		if err != nil {
			return "", goerrors.Wrap(err, goerrors.CategoryBadInput, ErrCorrelationDecode.Message).
				WithTextCode(TextCodeCorrelationDecode).
				WithCode(goerrors.CodeBadRequest).
				WithMetadata(map[string]any{"layer": i + 1})
		}

		unescaped, err := url.PathUnescape(string(raw))
		if err != nil {
			return "", goerrors.Wrap(err, goerrors.CategoryBadInput, ErrCorrelationDecode.Message).
				WithTextCode(TextCodeCorrelationDecode).
				WithCode(goerrors.CodeBadRequest).
				WithMetadata(map[string]any{"layer": i + 1})
		}
		out = unescaped
	}

	if out == "" {
		return "", ErrCorrelationDecode
	}
	return out, nil
}

// decodeBase64 accepts padded and unpadded input like atob does
func decodeBase64(s string) ([]byte, error) {
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// NewSessionID returns prefix-<unix ms>-<random>
func NewSessionID(prefix string, now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s-%d-%s", prefix, now.UnixMilli(), random)
}

// ReferenceCode derives the six digit reference code of a staff QR from its ECNO
func ReferenceCode(ecno string) (string, error) {
	base, err := strconv.Atoi(strings.TrimSpace(ecno))
	if err != nil {
		return "", ErrInvalidEcno
	}
	return fmt.Sprintf("%06d", base+15), nil
}
