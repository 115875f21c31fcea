package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/rpfba/internal/archive"
	"github.com/starford/rpfba/internal/blob"
	"github.com/starford/rpfba/internal/worker"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Auth       AuthConfig        `yaml:"auth"`
	Ledger     LedgerConfig      `yaml:"ledger"`
	S3         blob.S3Config     `yaml:"s3"`
	Watch      WatchConfig       `yaml:"watch"`
	Simulation worker.Params     `yaml:"simulation"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Simulation.Validate(); err != nil {
		return fmt.Errorf("simulation: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
	// WorkDir holds the private per-run directories. Empty means the system
	// temp directory.
	WorkDir string `yaml:"work_dir"`
	// Compression of result archives: xz, gzip or none.
	Compression string `yaml:"compression"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if _, err := archive.ParseCompression(c.Compression); err != nil {
		return fmt.Errorf("app: %w", err)
	}
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

// LedgerConfig locates the SQLite run ledger. An empty path disables it.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// Enabled reports whether runs are recorded.
func (c *LedgerConfig) Enabled() bool {
	return c.Path != ""
}

// WatchConfig configures the inbox watcher.
type WatchConfig struct {
	Inbox  string `yaml:"inbox"`
	Outbox string `yaml:"outbox"`
	// GEM is a local path or s3:// location.
	GEM string `yaml:"gem"`
}

// Validate validates the watch configuration. It is only checked by the
// watch command.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Inbox, validation.Required),
		validation.Field(&c.Outbox, validation.Required),
		validation.Field(&c.GEM, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): the REST surface is open.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
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
				Port: 8888,
			},
			Compression: "xz",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Ledger: LedgerConfig{
			Path: "./rpfba.db",
		},
		S3: blob.S3Config{
			Region: "us-east-1",
		},
		Watch: WatchConfig{
			Inbox:  "./inbox",
			Outbox: "./outbox",
		},
		Simulation: worker.DefaultParams(),
	}
}
