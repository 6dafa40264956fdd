// Package types contains the shared request/response types exchanged between
// the PDF service front, the generation pipeline, and downstream consumers.
package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Paper format constants accepted in GenerationOptions.Format.
const (
	FormatA4     = "A4"
	FormatA3     = "A3"
	FormatA5     = "A5"
	FormatLetter = "Letter"
	FormatLegal  = "Legal"
)

// Asset type constants for AssetInfo.Type.
const (
	AssetTypeImage      = "image"
	AssetTypeFont       = "font"
	AssetTypeStylesheet = "stylesheet"
	AssetTypeScript     = "script"
	AssetTypeOther      = "other"
)

// Structured error type constants attached to failed generations.
const (
	ErrorTypeValidation        = "validation_error"
	ErrorTypeCapacityExceeded  = "capacity_exceeded"
	ErrorTypeGenerationTimeout = "generation_timeout"
	ErrorTypeGenerationFailed  = "generation_failed"
	ErrorTypeBrowserLaunch     = "browser_launch_failed"
)

// GenerationOptions carries the per-request PDF tuning knobs.
// Zero values fall back to the service defaults from configuration.
type GenerationOptions struct {
	Format          string   `json:"format,omitempty"`
	PrintBackground *bool    `json:"print_background,omitempty"`
	Timeout         Duration `json:"timeout,omitempty"`
}

// GenerationRequest is the body of POST /generate. Immutable once parsed.
type GenerationRequest struct {
	HTML      string            `json:"html"`
	RequestID string            `json:"request_id,omitempty"`
	Options   GenerationOptions `json:"options,omitempty"`
}

// GenerationMetrics holds the per-phase timing breakdown of one generation.
// TotalMs is the wall-clock span of the whole call and is always at least
// the sum of the three phase durations (within rounding).
type GenerationMetrics struct {
	TotalMs       int64 `json:"total_ms"`
	ContentLoadMs int64 `json:"content_load_ms"`
	PaginationMs  int64 `json:"pagination_ms"`
	CaptureMs     int64 `json:"capture_ms"`
	PageCount     int   `json:"page_count"`
	PdfSizeBytes  int   `json:"pdf_size_bytes"`
}

// AssetInfo describes one tracked network exchange made by the page while
// loading the document. Best effort: redirects may produce duplicate URLs.
type AssetInfo struct {
	URL        string `json:"url"`
	Type       string `json:"type"`
	SizeBytes  int64  `json:"size_bytes"`
	DurationMs int64  `json:"duration_ms"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// PdfResult is the successful outcome of one generation.
type PdfResult struct {
	Buffer   []byte            `json:"-"`
	Metrics  GenerationMetrics `json:"metrics"`
	Assets   []AssetInfo       `json:"assets"`
	Warnings []string          `json:"warnings"`
}

// ErrorResponse is the structured JSON body returned on failed requests.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorType string `json:"error_type,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Duration wraps time.Duration with extended YAML/JSON parsing support for
// days and weeks in addition to the standard time.ParseDuration units.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for extended duration formats.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	dur, err := time.ParseDuration(s)
	if err == nil {
		*d = Duration(dur)
		return nil
	}

	dur, err = parseExtendedDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON accepts both numbers (nanoseconds) and strings ("15s", "2w").
func (d *Duration) UnmarshalJSON(data []byte) error {
	var ns int64
	if err := json.Unmarshal(data, &ns); err == nil {
		*d = Duration(ns)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string or number, got %s", string(data))
	}

	dur, err := time.ParseDuration(s)
	if err == nil {
		*d = Duration(dur)
		return nil
	}

	dur, err = parseExtendedDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalJSON implements json.Marshaler for Duration.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// ToDuration converts types.Duration to time.Duration.
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer for Duration.
func (d Duration) String() string {
	return time.Duration(d).String()
}

var extendedDurationRe = regexp.MustCompile(`^(-?)(\d+(?:\.\d+)?)(d|w)$`)

// parseExtendedDuration parses duration strings with extended suffixes:
// d (days), w (weeks). Examples: "30d", "2w", "1.5d".
func parseExtendedDuration(s string) (time.Duration, error) {
	matches := extendedDurationRe.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid format, expected format like '30d' or '2w'")
	}

	value, err := strconv.ParseFloat(matches[2], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value: %w", err)
	}
	if matches[1] == "-" {
		value = -value
	}

	switch matches[3] {
	case "d":
		return time.Duration(value * float64(24*time.Hour)), nil
	case "w":
		return time.Duration(value * float64(7*24*time.Hour)), nil
	default:
		return 0, fmt.Errorf("unsupported suffix %q", matches[3])
	}
}
