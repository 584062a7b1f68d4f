package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxFractionDigits matches the storage scale of every amount.
const MaxFractionDigits = 8

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	return "invalid request"
}

var assetPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9._-]{0,31}$`)

// localLayout accepts timestamps without a zone, read as UTC.
const localLayout = "2006-01-02T15:04:05"

type OrderRequest struct {
	CustomerID string
	AssetName  string
	Side       string
	Size       string
	Price      string
}

type ParsedOrder struct {
	CustomerID uuid.UUID
	AssetName  string
	Side       string
	Size       decimal.Decimal
	Price      decimal.Decimal
}

func ValidateOrderRequest(req OrderRequest) (ParsedOrder, ValidationErrors) {
	var errs ValidationErrors
	var out ParsedOrder

	id, err := uuid.Parse(strings.TrimSpace(req.CustomerID))
	if err != nil {
		errs = append(errs, FieldError{Field: "customerId", Message: "customerId must be a UUID"})
	}
	out.CustomerID = id

	out.AssetName = NormalizeAsset(req.AssetName)
	if out.AssetName == "" {
		errs = append(errs, FieldError{Field: "assetName", Message: "assetName is required"})
	} else if !assetPattern.MatchString(out.AssetName) {
		errs = append(errs, FieldError{Field: "assetName", Message: "assetName must be 1-32 letters, digits, '.', '_' or '-'"})
	}

	out.Side = strings.ToUpper(strings.TrimSpace(req.Side))
	if out.Side != "BUY" && out.Side != "SELL" {
		errs = append(errs, FieldError{Field: "side", Message: "side must be BUY or SELL"})
	}

	if out.Size, err = ParseAmount("size", req.Size); err != nil {
		errs = append(errs, FieldError{Field: "size", Message: err.Error()})
	}
	if out.Price, err = ParseAmount("price", req.Price); err != nil {
		errs = append(errs, FieldError{Field: "price", Message: err.Error()})
	}

	return out, errs
}

// ParseAmount accepts a positive decimal with at most MaxFractionDigits digits.
func ParseAmount(field, raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("%s is required", field)
	}
	val, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a decimal", field)
	}
	if !val.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s must be greater than 0", field)
	}
	if !WithinScale(val) {
		return decimal.Zero, fmt.Errorf("%s must have at most %d fractional digits", field, MaxFractionDigits)
	}
	return val, nil
}

// ParseNonNegative is ParseAmount that also admits zero.
func ParseNonNegative(field, raw string) (decimal.Decimal, error) {
	val, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a decimal", field)
	}
	if val.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", field)
	}
	return val, nil
}

func WithinScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MaxFractionDigits))
}

func NormalizeAsset(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// ParseTime accepts RFC 3339 or a zone-less ISO local date-time (UTC).
func ParseTime(field, raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("%s is required", field)
	}
	if t, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation(localLayout, trimmed, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%s must be RFC 3339 or YYYY-MM-DDTHH:MM:SS", field)
}

func ValidateDateRange(startRaw, endRaw string) (time.Time, time.Time, ValidationErrors) {
	var errs ValidationErrors
	start, err := ParseTime("startDate", startRaw)
	if err != nil {
		errs = append(errs, FieldError{Field: "startDate", Message: err.Error()})
	}
	end, err := ParseTime("endDate", endRaw)
	if err != nil {
		errs = append(errs, FieldError{Field: "endDate", Message: err.Error()})
	}
	if len(errs) == 0 && start.After(end) {
		errs = append(errs, FieldError{Field: "startDate", Message: "Start date cannot be after end date"})
	}
	return start, end, errs
}
