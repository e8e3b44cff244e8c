package token

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func ts(v int64) *int64 { return &v }

func TestRoundTrip(t *testing.T) {
	cases := []Attributes{
		{RefCode: "PARTNER42", UTMSource: "ig", UTMMedium: "story", UTMCampaign: "spring", Nonce: "n0nce", IssuedAt: ts(1767225600)},
		{RefCode: "only-ref"},
		{UTMSource: "tiktok", UTMCampaign: "launch"},
		{Nonce: "abc", IssuedAt: ts(0)},
	}
	for _, want := range cases {
		got := Decode(Encode(want))
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDecodeAcceptsPaddedInput(t *testing.T) {
	raw := base64.URLEncoding.EncodeToString([]byte("R1|src|med|camp|n|42"))
	got := Decode(raw)
	want := Attributes{RefCode: "R1", UTMSource: "src", UTMMedium: "med", UTMCampaign: "camp", Nonce: "n", IssuedAt: ts(42)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestDecodeTolerance(t *testing.T) {
	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }
	one := int64(1)
	cases := map[string]struct {
		raw  string
		want Attributes
	}{
		"empty":             {"", Attributes{}},
		"not base64":        {"%%%garbage%%%", Attributes{}},
		"binary payload":    {base64.RawURLEncoding.EncodeToString([]byte{0xff, 0x00, 0x10, 0x9c}), Attributes{}},
		"missing fields":    {enc("REF|src"), Attributes{RefCode: "REF", UTMSource: "src"}},
		"non-numeric ts":    {enc("REF||||n|yesterday"), Attributes{RefCode: "REF", Nonce: "n"}},
		"extra separators":  {enc("REF|a|b|c|n|1|2"), Attributes{RefCode: "REF", UTMSource: "a", UTMMedium: "b", UTMCampaign: "c", Nonce: "n", IssuedAt: &one}},
		"surrounding space": {"  " + enc("REF") + "\n", Attributes{RefCode: "REF"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, Decode(tc.raw)); diff != "" {
				t.Fatalf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseFallsBackToBareReferral(t *testing.T) {
	if got := Parse("REFERRALCODE"); got.RefCode != "REFERRALCODE" || got.HasUTM() {
		t.Fatalf("Parse(REFERRALCODE) = %+v", got)
	}
	encoded := Encode(Attributes{RefCode: "X", UTMSource: "y"})
	if got := Parse(encoded); got.RefCode != "X" || got.UTMSource != "y" {
		t.Fatalf("Parse(encoded) = %+v", got)
	}
	if got := Parse("has spaces!"); !got.Empty() {
		t.Fatalf("Parse(invalid) = %+v, want empty", got)
	}
}

func TestIsValid(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fresh := Attributes{IssuedAt: ts(now.Add(-time.Hour).Unix())}
	edge := Attributes{IssuedAt: ts(now.Add(-DefaultMaxAge).Unix())}
	stale := Attributes{IssuedAt: ts(now.Add(-DefaultMaxAge - time.Second).Unix())}

	if !IsValid(Attributes{RefCode: "x"}, time.Minute, now) {
		t.Fatal("token without timestamp must be valid")
	}
	if !IsValid(fresh, 0, now) {
		t.Fatal("fresh token must be valid")
	}
	if !IsValid(edge, DefaultMaxAge, now) {
		t.Fatal("token exactly at max age must be valid")
	}
	if IsValid(stale, DefaultMaxAge, now) {
		t.Fatal("stale token must be invalid")
	}
	if IsValid(fresh, time.Minute, now) {
		t.Fatal("custom max age must apply")
	}
}
