package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/snippets/internal/folderpath"
	"github.com/starford/snippets/internal/pending"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Notes     NotesConfig       `yaml:"notes"`
	Workspace WorkspaceConfig   `yaml:"workspace"`
	Index     IndexConfig       `yaml:"index"`
	Queue     QueueConfig       `yaml:"queue"`
	Agent     AgentConfig       `yaml:"agent"`
	Jobs      JobsConfig        `yaml:"jobs"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validators := []interface{ Validate() error }{
		&c.App, &c.Notes, &c.Workspace, &c.Index, &c.Queue, &c.Agent, &c.Jobs, &c.Auth,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
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

// NotesConfig locates the notes tree.
type NotesConfig struct {
	Root          string `yaml:"root"`
	DefaultFolder string `yaml:"default_folder"`
}

// Validate validates the notes configuration.
func (c *NotesConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
	); err != nil {
		return err
	}
	if c.DefaultFolder == "" {
		c.DefaultFolder = folderpath.Default
	}
	clean, err := folderpath.Sanitize(c.DefaultFolder)
	if err != nil {
		return fmt.Errorf("notes: default_folder: %w", err)
	}
	c.DefaultFolder = clean
	return nil
}

// WorkspaceConfig holds the agent-side files living next to the notes.
type WorkspaceConfig struct {
	AgentDir    string `yaml:"agent_dir"`
	MemoryFile  string `yaml:"memory_file"`
	MissionFile string `yaml:"mission_file"`
}

// Validate validates the workspace configuration.
func (c *WorkspaceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.AgentDir, validation.Required),
	)
}

// PendingDir is the marker directory of the file queue.
func (c *WorkspaceConfig) PendingDir() string { return filepath.Join(c.AgentDir, "pending") }

// ConnectionsFile is the connection graph document.
func (c *WorkspaceConfig) ConnectionsFile() string {
	return filepath.Join(c.AgentDir, "connections.json")
}

// JobsFile is the persisted job table.
func (c *WorkspaceConfig) JobsFile() string { return filepath.Join(c.AgentDir, "agent-jobs.json") }

// IconsFile is the folder icon side table.
func (c *WorkspaceConfig) IconsFile() string { return filepath.Join(c.AgentDir, "folder-icons.json") }

// IndexConfig holds the SQLite locator index configuration.
type IndexConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the index configuration.
func (c *IndexConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// QueueConfig selects the pending queue backend.
type QueueConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds the Redis queue connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// Validate validates the queue configuration.
func (c *QueueConfig) Validate() error {
	if c.Backend == "" {
		c.Backend = pending.BackendFile
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.In(pending.BackendFile, pending.BackendRedis)),
	); err != nil {
		return err
	}
	if c.Backend != pending.BackendRedis {
		return nil
	}
	return validation.ValidateStruct(&c.Redis,
		validation.Field(&c.Redis.Addr, validation.Required),
		validation.Field(&c.Redis.DB, validation.Min(0)),
	)
}

// Pending converts the section into the queue package's options.
func (c *QueueConfig) Pending(dir string) pending.Config {
	return pending.Config{
		Backend: c.Backend,
		Dir:     dir,
		Redis: pending.RedisConfig{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Key:      c.Redis.Key,
		},
	}
}

// AgentConfig holds the agent gateway connection and the callback base URL
// the agent uses to reach this server.
type AgentConfig struct {
	GatewayURL     string        `yaml:"gateway_url"`
	HooksToken     string        `yaml:"hooks_token"`
	PublicURL      string        `yaml:"public_url"`
	Model          string        `yaml:"model"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Validate validates the agent configuration.
func (c *AgentConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.GatewayURL, validation.Required, is.URL),
		validation.Field(&c.PublicURL, validation.Required, is.URL),
		validation.Field(&c.RequestTimeout, validation.Min(time.Duration(0))),
	)
}

// JobsConfig tunes agent action jobs.
type JobsConfig struct {
	Cooldown      time.Duration `yaml:"cooldown"`
	Timeout       time.Duration `yaml:"timeout"`
	StaleAfter    time.Duration `yaml:"stale_after"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Validate validates the jobs configuration.
func (c *JobsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Cooldown, validation.Min(time.Duration(0))),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.StaleAfter, validation.Min(time.Duration(0))),
		validation.Field(&c.SweepInterval, validation.Min(time.Duration(0))),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
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
				Port: 3811,
			},
		},
		Notes: NotesConfig{
			Root:          "./notes",
			DefaultFolder: folderpath.Default,
		},
		Workspace: WorkspaceConfig{
			AgentDir:    "./.agent",
			MemoryFile:  "./MEMORY.md",
			MissionFile: "./MISSION.md",
		},
		Index: IndexConfig{
			Path: "./.agent/index.db",
		},
		Queue: QueueConfig{
			Backend: pending.BackendFile,
		},
		Agent: AgentConfig{
			GatewayURL:     "http://127.0.0.1:18789",
			PublicURL:      "http://127.0.0.1:3811",
			RequestTimeout: 15 * time.Second,
		},
		Jobs: JobsConfig{
			Cooldown:      60 * time.Second,
			Timeout:       5 * time.Minute,
			StaleAfter:    10 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
