// Package config provides configuration loading and management for the
// crosspost server.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/crosspost-server/internal/versions"
)

const (
	// StoreTypeMemory keeps job and identity-link state in process memory
	StoreTypeMemory = "memory"

	// StoreTypeFile persists job and identity-link state as JSON files
	StoreTypeFile = "file"

	// StoreTypePostgres persists job and identity-link state in Postgres
	StoreTypePostgres = "postgres"
)

const (
	// LinkModeID stores an explicit identity link per synced entity
	LinkModeID = "id"

	// LinkModeSKU matches commerce items by their unique SKU on the remote
	// side; no explicit identity link is stored for products
	LinkModeSKU = "sku"
)

// Defaults applied by Validate when the corresponding field is unset.
const (
	DefaultPerTick         = 10
	DefaultMaxTickAttempts = 5
	DefaultFirstFireDelay  = 30 * time.Second
	DefaultInterval        = 60 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Sites are the remote targets entities can be crossposted to
	Sites []SiteConfig `yaml:"sites"`

	// Sync holds the batch engine policy
	Sync SyncConfig `yaml:"sync,omitempty"`

	// ExcludedFields removes fields from outgoing payloads per entity family
	ExcludedFields ExclusionConfig `yaml:"excludedFields,omitempty"`

	// Kinds describes the document kinds this deployment syncs
	Kinds []KindConfig `yaml:"kinds,omitempty"`

	// Store selects the durable backend for job and identity-link state
	Store StoreConfig `yaml:"store,omitempty"`

	// Entities selects the local entity source
	Entities EntityConfig `yaml:"entities,omitempty"`
}

// SiteConfig describes one remote site and its credentials
type SiteConfig struct {
	// ID is the identifier used in action tokens (crosspost_to_<id>)
	ID string `yaml:"id"`

	// Name is the human-readable site name shown in notices
	Name string `yaml:"name,omitempty"`

	// URL is the site base URL
	URL string `yaml:"url"`

	// Login and Password form the basic-auth credential pair
	Login    string `yaml:"login"`
	Password string `yaml:"password,omitempty"`

	// PasswordFile optionally points at a file holding the password;
	// takes precedence over Password when set
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// LinkMode is "id" (default) or "sku"
	LinkMode string `yaml:"linkMode,omitempty"`

	// RemoteVersion optionally declares the batch endpoint version the
	// remote runs; validated against MinRemoteVersion when both are set
	RemoteVersion string `yaml:"remoteVersion,omitempty"`
}

// SyncConfig holds the batch engine policy
type SyncConfig struct {
	// PerTick bounds how many entities one tick processes
	PerTick int `yaml:"perTick,omitempty"`

	// MaxSelection is the hard cap per bulk action, 0 disables the guard
	MaxSelection int `yaml:"maxSelection,omitempty"`

	// MaxTickAttempts bounds retries of a chunk after whole-tick
	// transport failures before the job gives up
	MaxTickAttempts int `yaml:"maxTickAttempts,omitempty"`

	// FirstFireDelay is how long after arming the trigger first fires
	FirstFireDelay string `yaml:"firstFireDelay,omitempty"`

	// Interval is the recurring trigger interval
	Interval string `yaml:"interval,omitempty"`

	// RequestTimeout bounds each outbound batch request
	RequestTimeout string `yaml:"requestTimeout,omitempty"`

	// Commerce enables the product pipeline
	Commerce bool `yaml:"commerce,omitempty"`

	// MinRemoteVersion is the minimum remote batch endpoint version
	MinRemoteVersion string `yaml:"minRemoteVersion,omitempty"`
}

// ExclusionConfig lists payload fields dropped before enrichment
type ExclusionConfig struct {
	// Content applies to document payloads (e.g. excerpt, meta, terms, thumbnail)
	Content []string `yaml:"content,omitempty"`

	// Commerce applies to product payloads (e.g. tag_ids, variations, images)
	Commerce []string `yaml:"commerce,omitempty"`
}

// KindConfig describes a document kind and its remote REST base
type KindConfig struct {
	Name string `yaml:"name"`

	// RestBase overrides the path segment used in batch sub-requests;
	// defaults to the kind name
	RestBase string `yaml:"restBase,omitempty"`

	// Label is the plural label used in notices; defaults to the kind name
	Label string `yaml:"label,omitempty"`

	// SingularLabel is the count-of-one form used in notices; derived
	// from Label when unset
	SingularLabel string `yaml:"singularLabel,omitempty"`
}

// StoreConfig selects the durable state backend
type StoreConfig struct {
	// Type is one of memory, file, postgres
	Type string `yaml:"type,omitempty"`

	// Path is the base directory for the file backend
	Path string `yaml:"path,omitempty"`

	// Postgres holds connection settings for the postgres backend
	Postgres *PostgresConfig `yaml:"postgres,omitempty"`
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password,omitempty"`

	// PasswordFile optionally points at a file holding the password
	PasswordFile string `yaml:"passwordFile,omitempty"`

	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslMode,omitempty"`
}

// EntityConfig selects the local entity source
type EntityConfig struct {
	// Type is "file" or "memory"
	Type string `yaml:"type,omitempty"`

	// Path is the entity YAML file for the file source
	Path string `yaml:"path,omitempty"`
}

// Loader loads configuration
type Loader struct{}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// Load loads a Config using the supplied options
func (*Loader) Load(opts ...Option) (*Config, error) {
	lc := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(lc); err != nil {
			return nil, err
		}
	}
	if lc.path == "" {
		return nil, fmt.Errorf("no configuration source provided")
	}

	data, err := os.ReadFile(lc.path) // #nosec G304 -- path validated by WithConfigPath
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration %s: %w", lc.path, err)
	}
	return &cfg, nil
}

// Validate checks the configuration for consistency and applies defaults
func (c *Config) Validate() error {
	if len(c.Sites) == 0 {
		return fmt.Errorf("at least one site is required")
	}

	seen := make(map[string]bool, len(c.Sites))
	for i := range c.Sites {
		site := &c.Sites[i]
		if err := site.validate(); err != nil {
			return fmt.Errorf("site %d: %w", i, err)
		}
		if seen[site.ID] {
			return fmt.Errorf("duplicate site id: %s", site.ID)
		}
		seen[site.ID] = true

		if c.Sync.MinRemoteVersion != "" && site.RemoteVersion != "" {
			if versions.IsNewerVersion(c.Sync.MinRemoteVersion, site.RemoteVersion) {
				return fmt.Errorf("site %s: remote version %s is older than required %s",
					site.ID, site.RemoteVersion, c.Sync.MinRemoteVersion)
			}
		}
	}

	if err := c.Sync.validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := c.Store.validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	for i := range c.Kinds {
		if c.Kinds[i].Name == "" {
			return fmt.Errorf("kind %d: name is required", i)
		}
	}

	return nil
}

func (s *SiteConfig) validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if s.URL == "" {
		return fmt.Errorf("url is required")
	}
	parsed, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url must use http or https scheme: %s", s.URL)
	}
	if s.Login == "" {
		return fmt.Errorf("login is required")
	}
	if s.Password == "" && s.PasswordFile == "" {
		return fmt.Errorf("password or passwordFile is required")
	}
	switch s.LinkMode {
	case "", LinkModeID, LinkModeSKU:
	default:
		return fmt.Errorf("invalid linkMode: %s", s.LinkMode)
	}
	return nil
}

func (s *SyncConfig) validate() error {
	if s.PerTick < 0 {
		return fmt.Errorf("perTick must not be negative")
	}
	if s.PerTick == 0 {
		s.PerTick = DefaultPerTick
	}
	if s.MaxSelection < 0 {
		return fmt.Errorf("maxSelection must not be negative")
	}
	if s.MaxTickAttempts == 0 {
		s.MaxTickAttempts = DefaultMaxTickAttempts
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"firstFireDelay", s.FirstFireDelay},
		{"interval", s.Interval},
		{"requestTimeout", s.RequestTimeout},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("invalid %s: %w", field.name, err)
		}
	}
	return nil
}

func (s *StoreConfig) validate() error {
	switch s.Type {
	case "", StoreTypeMemory:
	case StoreTypeFile:
		if s.Path == "" {
			return fmt.Errorf("path is required for the file store")
		}
	case StoreTypePostgres:
		if s.Postgres == nil {
			return fmt.Errorf("postgres settings are required for the postgres store")
		}
		if s.Postgres.Host == "" || s.Postgres.User == "" || s.Postgres.Database == "" {
			return fmt.Errorf("postgres host, user and database are required")
		}
	default:
		return fmt.Errorf("invalid store type: %s", s.Type)
	}
	return nil
}

// GetPassword returns the site password, preferring the password file
func (s *SiteConfig) GetPassword() (string, error) {
	if s.PasswordFile != "" {
		data, err := os.ReadFile(s.PasswordFile) // #nosec G304 -- operator-provided path
		if err != nil {
			return "", fmt.Errorf("failed to read password file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return s.Password, nil
}

// GetPassword returns the database password, preferring the password file
func (p *PostgresConfig) GetPassword() (string, error) {
	if p.PasswordFile != "" {
		data, err := os.ReadFile(p.PasswordFile) // #nosec G304 -- operator-provided path
		if err != nil {
			return "", fmt.Errorf("failed to read password file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return p.Password, nil
}

// FirstFireDelayDuration returns the parsed first-fire delay or its default
func (s *SyncConfig) FirstFireDelayDuration() time.Duration {
	return parseDurationOr(s.FirstFireDelay, DefaultFirstFireDelay)
}

// IntervalDuration returns the parsed trigger interval or its default
func (s *SyncConfig) IntervalDuration() time.Duration {
	return parseDurationOr(s.Interval, DefaultInterval)
}

// RequestTimeoutDuration returns the parsed request timeout or its default
func (s *SyncConfig) RequestTimeoutDuration() time.Duration {
	return parseDurationOr(s.RequestTimeout, DefaultRequestTimeout)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// RestBaseFor returns the REST base for a kind, defaulting to the kind name
func (c *Config) RestBaseFor(kind string) string {
	for i := range c.Kinds {
		if c.Kinds[i].Name == kind && c.Kinds[i].RestBase != "" {
			return c.Kinds[i].RestBase
		}
	}
	return kind
}

// LabelFor returns the notice label for a kind, defaulting to the kind name
func (c *Config) LabelFor(kind string) string {
	for i := range c.Kinds {
		if c.Kinds[i].Name == kind && c.Kinds[i].Label != "" {
			return c.Kinds[i].Label
		}
	}
	return kind
}

// SingularFor returns the count-of-one notice label for a kind. When no
// singular label is configured it trims a trailing "s" from the plural
// label.
func (c *Config) SingularFor(kind string) string {
	for i := range c.Kinds {
		if c.Kinds[i].Name == kind && c.Kinds[i].SingularLabel != "" {
			return c.Kinds[i].SingularLabel
		}
	}
	return strings.TrimSuffix(c.LabelFor(kind), "s")
}
