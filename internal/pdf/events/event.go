package events

import "time"

// GenerationEvent contains all data for a single generation event
type GenerationEvent struct {
	// Identifiers
	RequestID    string `json:"request_id"`
	DocumentHash string `json:"document_hash"`

	// Outcome
	EventType    string `json:"event_type"` // generated, raw, rejected, error
	StatusCode   int    `json:"status_code"`
	Success      bool   `json:"success"`
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Request metadata
	Format    string `json:"format,omitempty"`
	HTMLSize  int64  `json:"html_size"`
	ClientIP  string `json:"client_ip,omitempty"`
	RawBypass bool   `json:"raw_bypass,omitempty"`

	// Generation timings, milliseconds
	TotalMs       int64 `json:"total_ms"`
	ContentLoadMs int64 `json:"content_load_ms,omitempty"`
	PaginationMs  int64 `json:"pagination_ms,omitempty"`
	CaptureMs     int64 `json:"capture_ms,omitempty"`

	// Document
	PageCount    int `json:"page_count,omitempty"`
	PdfSizeBytes int `json:"pdf_size_bytes,omitempty"`

	// Asset diagnostics
	AssetCount       int `json:"asset_count,omitempty"`
	FailedAssetCount int `json:"failed_asset_count,omitempty"`
	WarningCount     int `json:"warning_count,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	ServiceID string    `json:"service_id"`
}

// Event types
const (
	EventTypeGenerated = "generated"
	EventTypeRaw       = "raw"
	EventTypeRejected  = "rejected"
	EventTypeError     = "error"
)
