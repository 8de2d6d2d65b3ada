package phone

import (
	"testing"

	"github.com/carelink/carelink/internal/apperr"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"+15551234567", "+15551234567"},
		{"+1 (555) 123-4567", "+15551234567"},
		{"+1 555 123 4567", "+15551234567"},
		{"1 (555) 123-4567", "+15551234567"},
		{"1-555-123-4567", "+15551234567"},
		{"555.123.4567", "+15551234567"},
		{" 5551234567 ", "+15551234567"},
		{"(555) 123-4567", "+15551234567"},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.raw, "1")
		if err != nil {
			t.Fatalf("normalize %q: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("normalize %q: expected %s, got %s", tc.raw, tc.want, got)
		}
	}
}

func TestNormalizeOneSubscriberOneKey(t *testing.T) {
	variants := []string{"+1 555 123 4567", "1 (555) 123-4567", "555-123-4567", "+15551234567"}
	want, err := Normalize(variants[0], "1")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	for _, raw := range variants[1:] {
		got, err := Normalize(raw, "+1")
		if err != nil {
			t.Fatalf("normalize %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("normalize %q: expected %s, got %s", raw, want, got)
		}
	}
}

func TestNormalizeUsesDefaultRegion(t *testing.T) {
	got, err := Normalize("020 7946 0958", "44")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "+442079460958" {
		t.Fatalf("expected national trunk prefix dropped, got %s", got)
	}
}

func TestNormalizeRejectsBadInput(t *testing.T) {
	for _, raw := range []string{"", "   ", "not a number", "+123", "12", "+1234567890123456"} {
		if _, err := Normalize(raw, "1"); !apperr.Is(err, apperr.KindValidation) {
			t.Fatalf("normalize %q: expected validation error, got %v", raw, err)
		}
	}
}

func TestMask(t *testing.T) {
	if got := Mask("+15551234567"); got != "********4567" {
		t.Fatalf("unexpected mask %s", got)
	}
}
