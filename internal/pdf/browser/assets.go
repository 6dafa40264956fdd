package browser

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/pagepress/engine/pkg/types"
)

// Warning thresholds, evaluated deterministically at record time.
const (
	largeAssetBytes = 200 * 1024 // strictly greater warns
	slowAssetMs     = 1000       // strictly greater warns
	maxDisplayURL   = 80
)

// pendingAsset tracks one outstanding request between the send and
// response/failure events.
type pendingAsset struct {
	url       string
	assetType string
	start     time.Time
}

// AssetCollector records per-asset diagnostics for one generation.
// Thread-safe for concurrent event handler calls.
type AssetCollector struct {
	mu       sync.Mutex
	pending  map[string]*pendingAsset
	assets   []types.AssetInfo
	warnings []string

	now func() time.Time
}

// NewAssetCollector creates an empty collector.
func NewAssetCollector() *AssetCollector {
	return &AssetCollector{
		pending: make(map[string]*pendingAsset),
		now:     time.Now,
	}
}

// OnRequestWillBeSent starts tracking a request if its resource type is one
// we instrument. Untracked types (documents, XHR, websockets) are ignored.
func (c *AssetCollector) OnRequestWillBeSent(requestID, url string, resourceType network.ResourceType) {
	assetType, tracked := classifyResourceType(resourceType)
	if !tracked {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending[requestID] = &pendingAsset{
		url:       url,
		assetType: assetType,
		start:     c.now(),
	}
}

// OnResponseReceived completes a tracked request. Success is an HTTP status
// in [200,400); size comes from the Content-Length header when present.
func (c *AssetCollector) OnResponseReceived(requestID string, status int, headers network.Headers) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.pending[requestID]
	if !ok {
		return
	}
	delete(c.pending, requestID)

	durationMs := c.now().Sub(req.start).Milliseconds()
	size := contentLength(headers)
	success := status >= 200 && status < 400

	asset := types.AssetInfo{
		URL:        shortenURL(req.url),
		Type:       req.assetType,
		SizeBytes:  size,
		DurationMs: durationMs,
		Success:    success,
	}
	if !success {
		asset.Error = fmt.Sprintf("HTTP %d", status)
	}
	c.assets = append(c.assets, asset)

	if !success {
		c.warnings = append(c.warnings, fmt.Sprintf("Failed: %s (%d)", asset.URL, status))
		return
	}
	// Each exceeded threshold warns on its own line
	if size > largeAssetBytes {
		c.warnings = append(c.warnings, fmt.Sprintf("Large: %s (%dKB)", asset.URL, size/1024))
	}
	if durationMs > slowAssetMs {
		c.warnings = append(c.warnings, fmt.Sprintf("Slow: %s (%dms)", asset.URL, durationMs))
	}
}

// OnLoadingFailed records a network-level failure (DNS, connection reset,
// aborted) for a tracked request. Never aborts the generation.
func (c *AssetCollector) OnLoadingFailed(requestID, errorText string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.pending[requestID]
	if !ok {
		return
	}
	delete(c.pending, requestID)

	asset := types.AssetInfo{
		URL:        shortenURL(req.url),
		Type:       req.assetType,
		DurationMs: c.now().Sub(req.start).Milliseconds(),
		Success:    false,
		Error:      errorText,
	}
	c.assets = append(c.assets, asset)
	c.warnings = append(c.warnings, fmt.Sprintf("Failed: %s (%s)", asset.URL, errorText))
}

// Snapshot returns the recorded assets and warnings in arrival order.
func (c *AssetCollector) Snapshot() ([]types.AssetInfo, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	assets := make([]types.AssetInfo, len(c.assets))
	copy(assets, c.assets)
	warnings := make([]string, len(c.warnings))
	copy(warnings, c.warnings)
	return assets, warnings
}

// classifyResourceType maps CDP resource types onto the tracked asset types.
func classifyResourceType(rt network.ResourceType) (string, bool) {
	switch rt {
	case network.ResourceTypeImage:
		return types.AssetTypeImage, true
	case network.ResourceTypeFont:
		return types.AssetTypeFont, true
	case network.ResourceTypeStylesheet:
		return types.AssetTypeStylesheet, true
	case network.ResourceTypeScript:
		return types.AssetTypeScript, true
	default:
		return types.AssetTypeOther, false
	}
}

// contentLength extracts the Content-Length header as int64, 0 when absent
// or malformed. CDP header keys are not canonicalized.
func contentLength(headers network.Headers) int64 {
	for key, value := range headers {
		if !strings.EqualFold(key, "Content-Length") {
			continue
		}
		switch v := value.(type) {
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
				return n
			}
		case float64:
			if v >= 0 {
				return int64(v)
			}
		}
		return 0
	}
	return 0
}

// shortenURL produces the display form of an asset URL. Presentation only:
// classification and thresholds always operate on the raw URL's exchange.
// data: URIs collapse to their MIME prefix; anything longer than 80 chars
// is truncated with an ellipsis.
func shortenURL(rawURL string) string {
	if strings.HasPrefix(rawURL, "data:") {
		rest := rawURL[len("data:"):]
		end := len(rest)
		if idx := strings.IndexAny(rest, ";,"); idx >= 0 {
			end = idx
		}
		return "data:" + rest[:end] + "..."
	}

	if len(rawURL) > maxDisplayURL {
		return rawURL[:maxDisplayURL-3] + "..."
	}
	return rawURL
}
