package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pagepress/engine/internal/common/configtypes"
	"github.com/pagepress/engine/internal/common/yamlutil"
	"github.com/pagepress/engine/pkg/types"
)

// ServiceConfig represents PDF Service configuration
type ServiceConfig struct {
	Server       ServerConfig                    `yaml:"server"`
	Browser      BrowserYAMLConfig               `yaml:"browser"`
	PDF          PDFConfig                       `yaml:"pdf"`
	Log          configtypes.LogConfig           `yaml:"log"`
	Metrics      configtypes.MetricsConfig       `yaml:"metrics"`
	EventLogging *configtypes.EventLoggingConfig `yaml:"event_logging,omitempty"`
}

// ServerConfig represents the HTTP front configuration
type ServerConfig struct {
	ID     string `yaml:"id"`
	Listen string `yaml:"listen"`
}

// BrowserYAMLConfig represents browser pool configuration for YAML
type BrowserYAMLConfig struct {
	MaxConcurrent   string         `yaml:"max_concurrent"`
	Warmup          WarmupConfig   `yaml:"warmup"`
	ShutdownTimeout types.Duration `yaml:"shutdown_timeout"`
}

// WarmupConfig represents browser warmup configuration
type WarmupConfig struct {
	HTML    string         `yaml:"html"`
	Timeout types.Duration `yaml:"timeout"`
}

// PDFConfig represents generation defaults and bounds
type PDFConfig struct {
	DefaultFormat      string         `yaml:"default_format"`
	PrintBackground    bool           `yaml:"print_background"`
	MaxTimeout         types.Duration `yaml:"max_timeout"`
	RawCompressMinSize int            `yaml:"raw_compress_min_size"`
}

const (
	// SafetyMargin is the buffer added to max_timeout for server timeout calculation
	// so FastHTTP does not kill connections before a generation completes
	SafetyMargin = 10 * time.Second

	defaultMaxConcurrent      = "auto"
	defaultFormat             = "A4"
	defaultMaxTimeout         = 30 * time.Second
	defaultWarmupTimeout      = 10 * time.Second
	defaultShutdownTimeout    = 30 * time.Second
	defaultRawCompressMinSize = 1024
)

// CalculateServerTimeout returns the FastHTTP server timeout
// Server timeout = max_timeout + SafetyMargin
func (p *PDFConfig) CalculateServerTimeout() time.Duration {
	return time.Duration(p.MaxTimeout) + SafetyMargin
}

// ServiceConfigManager handles PDF Service configuration
type ServiceConfigManager struct {
	config     *ServiceConfig
	configPath string
	logger     *zap.Logger
}

// NewServiceConfigManager creates a new config manager
func NewServiceConfigManager(configPath string, logger *zap.Logger) (*ServiceConfigManager, error) {
	cm := &ServiceConfigManager{
		configPath: configPath,
		logger:     logger,
	}

	if err := cm.LoadConfig(); err != nil {
		return nil, err
	}

	return cm, nil
}

// LoadConfig loads configuration from file
func (cm *ServiceConfigManager) LoadConfig() error {
	cfg, err := LoadServiceConfig(cm.configPath)
	if err != nil {
		return err
	}

	cm.config = cfg
	return nil
}

// GetConfig returns the current configuration
func (cm *ServiceConfigManager) GetConfig() *ServiceConfig {
	return cm.config
}

// applyDefaults applies default values to configuration fields
func (cfg *ServiceConfig) applyDefaults() {
	// If both log outputs are disabled (zero values), enable console by default
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = configtypes.LogFormatConsole
	}

	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = configtypes.LogFormatText
	}

	if cfg.Browser.MaxConcurrent == "" {
		cfg.Browser.MaxConcurrent = defaultMaxConcurrent
	}

	if cfg.Browser.Warmup.Timeout == 0 {
		cfg.Browser.Warmup.Timeout = types.Duration(defaultWarmupTimeout)
	}

	if cfg.Browser.ShutdownTimeout == 0 {
		cfg.Browser.ShutdownTimeout = types.Duration(defaultShutdownTimeout)
	}

	if cfg.PDF.DefaultFormat == "" {
		cfg.PDF.DefaultFormat = defaultFormat
	}

	if cfg.PDF.MaxTimeout == 0 {
		cfg.PDF.MaxTimeout = types.Duration(defaultMaxTimeout)
	}

	if cfg.PDF.RawCompressMinSize == 0 {
		cfg.PDF.RawCompressMinSize = defaultRawCompressMinSize
	}
}

// Validate checks configuration validity
func (cfg *ServiceConfig) Validate() error {
	// Server validation
	if cfg.Server.ID == "" {
		return fmt.Errorf("server.id is required")
	}

	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	} else if err := configtypes.ValidateListenAddress(cfg.Server.Listen); err != nil {
		return fmt.Errorf("invalid server.listen: %w", err)
	}

	// Browser validation
	if cfg.Browser.MaxConcurrent != "auto" {
		n, err := strconv.Atoi(cfg.Browser.MaxConcurrent)
		if err != nil || n < 0 {
			return fmt.Errorf("browser.max_concurrent must be 'auto' or a non-negative integer")
		}
	}

	if cfg.Browser.Warmup.Timeout <= 0 {
		return fmt.Errorf("browser.warmup.timeout must be positive")
	}

	if cfg.Browser.ShutdownTimeout <= 0 {
		return fmt.Errorf("browser.shutdown_timeout must be positive")
	}

	// PDF validation
	validFormats := map[string]bool{"A4": true, "A3": true, "A5": true, "Letter": true, "Legal": true}
	if !validFormats[cfg.PDF.DefaultFormat] {
		return fmt.Errorf("invalid pdf.default_format: %s (must be A4, A3, A5, Letter, or Legal)", cfg.PDF.DefaultFormat)
	}

	if cfg.PDF.MaxTimeout <= 0 {
		return fmt.Errorf("pdf.max_timeout must be positive")
	}

	if cfg.PDF.RawCompressMinSize < 0 {
		return fmt.Errorf("pdf.raw_compress_min_size must be >= 0, got %d", cfg.PDF.RawCompressMinSize)
	}

	// Log validation
	validLogLevels := map[string]bool{
		configtypes.LogLevelDebug:  true,
		configtypes.LogLevelInfo:   true,
		configtypes.LogLevelWarn:   true,
		configtypes.LogLevelError:  true,
		configtypes.LogLevelDPanic: true,
		configtypes.LogLevelPanic:  true,
		configtypes.LogLevelFatal:  true,
	}
	if !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, error, dpanic, panic, or fatal)", cfg.Log.Level)
	}

	validConsoleFormats := map[string]bool{
		configtypes.LogFormatJSON:    true,
		configtypes.LogFormatConsole: true,
	}

	if cfg.Log.Console.Enabled && cfg.Log.Console.Format != "" && !validConsoleFormats[cfg.Log.Console.Format] {
		return fmt.Errorf("invalid log.console.format: %s (must be json or console)", cfg.Log.Console.Format)
	}

	if cfg.Log.File.Enabled {
		if cfg.Log.File.Path == "" {
			return fmt.Errorf("log.file.path must be specified when file logging is enabled")
		}

		validFileFormats := map[string]bool{
			configtypes.LogFormatJSON: true,
			configtypes.LogFormatText: true,
		}
		if cfg.Log.File.Format != "" && !validFileFormats[cfg.Log.File.Format] {
			return fmt.Errorf("invalid log.file.format: %s (must be json or text)", cfg.Log.File.Format)
		}

		if cfg.Log.File.Rotation.MaxSize < 0 {
			return fmt.Errorf("log.file.rotation.max_size must be >= 0, got %d", cfg.Log.File.Rotation.MaxSize)
		}
		if cfg.Log.File.Rotation.MaxAge < 0 {
			return fmt.Errorf("log.file.rotation.max_age must be >= 0, got %d", cfg.Log.File.Rotation.MaxAge)
		}
		if cfg.Log.File.Rotation.MaxBackups < 0 {
			return fmt.Errorf("log.file.rotation.max_backups must be >= 0, got %d", cfg.Log.File.Rotation.MaxBackups)
		}
	}

	// Metrics validation
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			return fmt.Errorf("metrics.listen is required when metrics enabled")
		} else if err := configtypes.ValidateListenAddress(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics.listen: %w", err)
		}

		metricsPort, err1 := configtypes.GetPortFromListen(cfg.Metrics.Listen)
		serverPort, err2 := configtypes.GetPortFromListen(cfg.Server.Listen)
		if err1 == nil && err2 == nil && metricsPort == serverPort {
			return fmt.Errorf("metrics.listen port (%d) must differ from server.listen port (%d) when metrics enabled", metricsPort, serverPort)
		}
	}

	if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics.path: %s (must start with /)", cfg.Metrics.Path)
	}

	if cfg.Metrics.Namespace != "" {
		// Prometheus namespace must match: [a-zA-Z_][a-zA-Z0-9_]*
		if matched, _ := regexp.MatchString(`^[a-zA-Z_][a-zA-Z0-9_]*$`, cfg.Metrics.Namespace); !matched {
			return fmt.Errorf("invalid metrics.namespace: %s (must match [a-zA-Z_][a-zA-Z0-9_]*)", cfg.Metrics.Namespace)
		}
	}

	// Event logging validation
	if cfg.EventLogging != nil && cfg.EventLogging.File.Enabled {
		if cfg.EventLogging.File.Path == "" {
			return fmt.Errorf("event_logging.file.path must be specified when event logging is enabled")
		}
	}

	return nil
}

// LoadServiceConfig loads PDF Service configuration from a file
func LoadServiceConfig(configPath string) (*ServiceConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg ServiceConfig
	if err := yamlutil.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// GetConfigPath resolves the config file path
func GetConfigPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("config path cannot be empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path: %w", err)
	}

	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return "", fmt.Errorf("config file does not exist: %s", absPath)
	}

	return absPath, nil
}
