package service

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/gzip"
)

// compressRaw gzips a raw-HTML payload. Speed over ratio: these responses
// are debug traffic, not cached artifacts.
func compressRaw(content []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		w.Close()
		return nil, fmt.Errorf("gzip compression failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip compression close failed: %w", err)
	}

	return buf.Bytes(), nil
}
