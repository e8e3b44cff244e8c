// Package token decodes the opaque start parameter attached to deep links.
//
// A token is the base64url encoding of six pipe separated fields:
//
//	ref|utm_source|utm_medium|utm_campaign|nonce|issued_at
//
// issued_at is unix seconds. Decoding never fails: anything unreadable
// yields empty Attributes.
package token

import (
	"encoding/base64"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxAge is the advisory token lifetime.
const DefaultMaxAge = 7 * 24 * time.Hour

const separator = "|"

// Attributes are the fields carried by a start token.
type Attributes struct {
	RefCode     string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	Nonce       string
	// IssuedAt is unix seconds; nil when absent or not numeric.
	IssuedAt *int64
}

// Empty reports whether no field was decoded.
func (a Attributes) Empty() bool {
	return a.RefCode == "" && !a.HasUTM() && a.Nonce == "" && a.IssuedAt == nil
}

// HasUTM reports whether any campaign field is set.
func (a Attributes) HasUTM() bool {
	return a.UTMSource != "" || a.UTMMedium != "" || a.UTMCampaign != ""
}

// Decode parses raw. Padded and unpadded base64url are both accepted.
func Decode(raw string) Attributes {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Attributes{}
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
	if err != nil || !printable(data) {
		return Attributes{}
	}

	// Fields past the sixth are ignored.
	parts := strings.Split(string(data), separator)
	field := func(i int) string {
		if i < len(parts) {
			return parts[i]
		}
		return ""
	}

	attrs := Attributes{
		RefCode:     field(0),
		UTMSource:   field(1),
		UTMMedium:   field(2),
		UTMCampaign: field(3),
		Nonce:       field(4),
	}
	if ts, err := strconv.ParseInt(strings.TrimSpace(field(5)), 10, 64); err == nil {
		attrs.IssuedAt = &ts
	}
	return attrs
}

// plainRef matches a bare deep-link start parameter.
var plainRef = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Parse decodes a deep-link payload. A payload that is not an encoded token
// but is a valid start parameter is taken as a bare referral code.
func Parse(payload string) Attributes {
	payload = strings.TrimSpace(payload)
	if attrs := Decode(payload); !attrs.Empty() {
		return attrs
	}
	if plainRef.MatchString(payload) {
		return Attributes{RefCode: payload}
	}
	return Attributes{}
}

func printable(data []byte) bool {
	if !utf8.Valid(data) {
		return false
	}
	for _, r := range string(data) {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// Encode is the inverse of Decode and produces unpadded base64url.
func Encode(a Attributes) string {
	ts := ""
	if a.IssuedAt != nil {
		ts = strconv.FormatInt(*a.IssuedAt, 10)
	}
	raw := strings.Join([]string{a.RefCode, a.UTMSource, a.UTMMedium, a.UTMCampaign, a.Nonce, ts}, separator)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// IsValid reports whether a was issued no longer than maxAge before now.
// Tokens without a timestamp are always valid. A non-positive maxAge uses DefaultMaxAge.
func IsValid(a Attributes, maxAge time.Duration, now time.Time) bool {
	if a.IssuedAt == nil {
		return true
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return now.Sub(time.Unix(*a.IssuedAt, 0)) <= maxAge
}
