package browser

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
)

// Config holds the configuration for the page pool and the underlying browser
type Config struct {
	// MaxConcurrent is "auto" or a positive integer string. It caps the
	// number of pages checked out at the same time.
	MaxConcurrent string

	// Timeout is the default bound applied to every generation phase.
	Timeout time.Duration

	// WarmupHTML, when non-empty, is rendered once right after launch so the
	// first real request does not pay the cold-start cost.
	WarmupHTML    string
	WarmupTimeout time.Duration

	// ShutdownTimeout bounds the drain of in-flight generations on Close.
	ShutdownTimeout time.Duration
}

// DefaultConfig is used in tests to avoid constructing full Config structs
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrent:   "auto",
		Timeout:         30 * time.Second,
		WarmupTimeout:   10 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.MaxConcurrent != "auto" {
		n, err := strconv.Atoi(c.MaxConcurrent)
		if err != nil {
			return fmt.Errorf("max_concurrent must be 'auto' or a valid integer")
		}
		if n < 0 {
			return fmt.Errorf("max_concurrent must not be negative")
		}
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	return nil
}

// CalculateMaxConcurrent determines the concurrency cap, sizing from
// available RAM when configured as "auto"
func (c *Config) CalculateMaxConcurrent() int {
	if c.MaxConcurrent == "auto" {
		return c.calculateAutoMaxConcurrent()
	}

	n, err := strconv.Atoi(c.MaxConcurrent)
	if err != nil || n < 0 {
		return c.calculateAutoMaxConcurrent()
	}

	return n
}

// calculateAutoMaxConcurrent sizes the page cap based on system RAM.
// Pages share one browser process, so the per-unit cost is a tab, not a
// full Chrome process.
func (c *Config) calculateAutoMaxConcurrent() int {
	v, err := mem.VirtualMemory()
	var totalRAMBytes int64

	if err != nil {
		// Conservative estimate if system memory is unreadable
		totalRAMBytes = int64(8 * 1024 * 1024 * 1024)
	} else {
		totalRAMBytes = int64(v.Total)
	}

	// Reserve 1GB for the browser process itself plus the service
	reservedBytes := int64(1 * 1024 * 1024 * 1024)
	availableBytes := totalRAMBytes - reservedBytes

	// Each rendering tab uses roughly 150MB for document-sized pages
	tabBytes := int64(150 * 1024 * 1024)

	capValue := int(availableBytes / tabBytes)

	if capValue < 2 {
		capValue = 2
	}
	if capValue > 32 {
		capValue = 32
	}

	return capValue
}
