package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Bank      BankConfig        `yaml:"bank"`
	Index     IndexConfig       `yaml:"index"`
	Streaming StreamingConfig   `yaml:"streaming"`
	Cache     CacheConfig       `yaml:"cache"`
	Resources ResourceConfig    `yaml:"resources"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Bank.Validate(); err != nil {
		return err
	}
	if err := c.Index.Validate(); err != nil {
		return err
	}
	if err := c.Streaming.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Resources.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// BankConfig holds the memory bank root directory and indexing scope.
type BankConfig struct {
	Path      string   `yaml:"path"`
	Patterns  []string `yaml:"patterns"`
	SchemaDir string   `yaml:"schema_dir"`
}

// Validate validates the bank configuration.
func (c *BankConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// IndexConfig holds metadata index configuration. MaxAge of zero means a
// persisted index never goes stale.
type IndexConfig struct {
	RelPath     string        `yaml:"rel_path"`
	AutoRebuild bool          `yaml:"auto_rebuild"`
	Debounce    time.Duration `yaml:"debounce"`
	MaxAge      time.Duration `yaml:"max_age"`
}

// Validate validates the index configuration.
func (c *IndexConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxAge, validation.Min(time.Duration(0))),
	)
}

// StreamingConfig holds large-file read configuration. Files at or above
// Threshold are read in chunks instead of a single buffered read.
type StreamingConfig struct {
	Threshold int64         `yaml:"threshold"`
	ChunkSize int           `yaml:"chunk_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Validate validates the streaming configuration.
func (c *StreamingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Threshold, validation.Min(int64(0))),
		validation.Field(&c.ChunkSize, validation.Min(0)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// CacheConfig holds content cache configuration. MaxEntries of zero or less
// means unbounded.
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return nil
}

// ResourceConfig holds lifecycle settings for tracked resources.
type ResourceConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Validate validates the resource configuration.
func (c *ResourceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.IdleTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.SweepInterval, validation.Min(time.Duration(0))),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Bank: BankConfig{
			Path:     "./membank",
			Patterns: []string{"**/*.md"},
		},
		Index: IndexConfig{
			RelPath:     ".membank-index/metadata.json",
			AutoRebuild: true,
			Debounce:    500 * time.Millisecond,
		},
		Streaming: StreamingConfig{
			Threshold: 1 << 20,
			ChunkSize: 64 << 10,
			Timeout:   30 * time.Second,
		},
		Cache: CacheConfig{
			MaxEntries: 256,
		},
		Resources: ResourceConfig{
			IdleTimeout:   30 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
