package validation

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestValidateOrderRequestAccepts(t *testing.T) {
	id := uuid.New()
	parsed, errs := ValidateOrderRequest(OrderRequest{
		CustomerID: id.String(),
		AssetName:  " gold ",
		Side:       "buy",
		Size:       "10",
		Price:      "100.12345678",
	})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	if parsed.CustomerID != id || parsed.AssetName != "GOLD" || parsed.Side != "BUY" {
		t.Fatalf("unexpected parsed order %+v", parsed)
	}
}

func TestValidateOrderRequestCollectsFieldErrors(t *testing.T) {
	_, errs := ValidateOrderRequest(OrderRequest{
		CustomerID: "42",
		AssetName:  "",
		Side:       "HOLD",
		Size:       "0",
		Price:      "1.123456789",
	})
	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.Field] = true
	}
	for _, f := range []string{"customerId", "assetName", "side", "size", "price"} {
		if !fields[f] {
			t.Fatalf("expected error for %s, got %+v", f, errs)
		}
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		raw string
		ok  bool
	}{
		{"1", true},
		{"0.00000001", true},
		{"1.50000000000", true},
		{"0.000000001", false},
		{"-1", false},
		{"0", false},
		{"abc", false},
		{"", false},
	}
	for _, tc := range cases {
		_, err := ParseAmount("size", tc.raw)
		if (err == nil) != tc.ok {
			t.Fatalf("ParseAmount(%q) err=%v, want ok=%v", tc.raw, err, tc.ok)
		}
	}
}

func TestValidateDateRange(t *testing.T) {
	start, end, errs := ValidateDateRange("2026-01-01T00:00:00", "2026-01-31T23:59:59Z")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	if !start.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) || end.Before(start) {
		t.Fatalf("unexpected range %s..%s", start, end)
	}

	if _, _, errs := ValidateDateRange("2026-02-01T00:00:00Z", "2026-01-01T00:00:00Z"); len(errs) != 1 {
		t.Fatalf("expected start-after-end error, got %+v", errs)
	}
	if _, _, errs := ValidateDateRange("yesterday", ""); len(errs) != 2 {
		t.Fatalf("expected two parse errors, got %+v", errs)
	}
}
