package pagination

import (
	"errors"
	"net/url"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" || !params.Cursor.IsZero() {
		t.Fatalf("expected empty cursor, got %#v", params)
	}
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	values := url.Values{}
	values.Set("pageSize", "30")

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 30 {
		t.Fatalf("expected page size 30 got %d", params.PageSize)
	}

	values.Set("pageSize", "400")
	params, err = Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != opts.MaxPageSize {
		t.Fatalf("expected page size clamped to %d got %d", opts.MaxPageSize, params.PageSize)
	}
}

func TestParseInvalidPageSize(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-3"} {
		values := url.Values{}
		values.Set("pageSize", raw)
		if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("pageSize %q: expected ErrInvalidPageSize, got %v", raw, err)
		}
	}
}

func TestTokenRoundTrip(t *testing.T) {
	created := time.Date(2024, time.May, 2, 9, 30, 0, 123, time.UTC)
	token := NextToken(created, "ord_01")
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	values := url.Values{}
	values.Set("pageToken", token)
	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.Cursor.ID != "ord_01" || !params.Cursor.CreatedAt.Equal(created) {
		t.Fatalf("unexpected cursor %#v", params.Cursor)
	}
}

func TestParseInvalidPageToken(t *testing.T) {
	values := url.Values{}
	values.Set("pageToken", "!!not-base64!!")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestCursorBefore(t *testing.T) {
	base := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	cursor := Cursor{CreatedAt: base, ID: "b"}

	cases := []struct {
		name    string
		created time.Time
		id      string
		want    bool
	}{
		{"older item follows", base.Add(-time.Second), "z", true},
		{"newer item precedes", base.Add(time.Second), "a", false},
		{"same time lower id follows", base, "a", true},
		{"same item excluded", base, "b", false},
	}
	for _, tc := range cases {
		if got := cursor.Before(tc.created, tc.id); got != tc.want {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.want, got)
		}
	}
	if !(Cursor{}).Before(base, "a") {
		t.Fatal("zero cursor should include every item")
	}
}

func TestNormalizePageSize(t *testing.T) {
	if got := NormalizePageSize(0, 10, 20); got != 10 {
		t.Fatalf("expected default 10 got %d", got)
	}
	if got := NormalizePageSize(50, 10, 20); got != 20 {
		t.Fatalf("expected clamp 20 got %d", got)
	}
	if got := NormalizePageSize(0, 80, 20); got != 20 {
		t.Fatalf("expected default clamped to max got %d", got)
	}
}
