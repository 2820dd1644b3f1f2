// Package config loads, generates and resolves the littleci server
// configuration.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/littleci/littleci/internal/crypto"
)

// Environment variables that override the file on resolve.
const (
	EnvNetworkHost = "LITTLECI_NETWORK_HOST"
	EnvPort        = "LITTLECI_PORT"
	EnvDataDir     = "LITTLECI_DATA_DIR"
)

// AuthenticationType selects how the HTTP API guards its routes.
type AuthenticationType string

const (
	// NoAuthentication leaves every route open.
	NoAuthentication AuthenticationType = "NoAuthentication"
	// Simple requires a bearer token issued by POST /login.
	Simple AuthenticationType = "Simple"
)

// File is the persisted configuration as written to disk.
type File struct {
	// Secret seeds the signing key for session tokens. Never served raw;
	// the API exposes only its hash.
	Secret string `json:"secret" yaml:"secret" toml:"secret"`

	// ConfigPath is injected by the loader, not read from the file.
	ConfigPath string `json:"config_path,omitempty" yaml:"config_path" toml:"config_path"`

	// DataDir holds the database and job output. Defaults to the config
	// file's directory.
	DataDir string `json:"data_dir,omitempty" yaml:"data_dir" toml:"data_dir"`

	// SiteURL is the externally visible base URL. Defaults to
	// http://<network_host>:<port>.
	SiteURL string `json:"site_url,omitempty" yaml:"site_url" toml:"site_url"`

	NetworkHost        string             `json:"network_host" yaml:"network_host" toml:"network_host"`
	Port               uint16             `json:"port" yaml:"port" toml:"port"`
	AuthenticationType AuthenticationType `json:"authentication_type" yaml:"authentication_type" toml:"authentication_type"`
}

// AppConfig is the resolved runtime configuration.
type AppConfig struct {
	// Signature is the SHA3-256 hex of the configured secret. It signs
	// session tokens and is what GET /config reports.
	Signature          string
	ConfigPath         string
	WorkingDir         string
	DataDir            string
	NetworkHost        string
	SiteURL            string
	Port               uint16
	AuthenticationType AuthenticationType
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *AppConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.NetworkHost, c.Port)
}

// DatabasePath returns the SQLite file inside the data directory.
func (c *AppConfig) DatabasePath() string {
	return filepath.Join(c.DataDir, "littleci.sqlite3")
}

// Load reads the configuration at path. A directory is searched for a
// littleci config file in any supported format; when none exists a default
// littleci.json is generated there first.
func Load(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config path: %w", err)
	}

	if info.IsDir() {
		return loadFromDir(path)
	}
	return loadFile(path)
}

func loadFromDir(dir string) (*File, error) {
	candidates := []string{"littleci.json", "littleci.yaml", "littleci.yml", "littleci.toml"}
	for _, name := range candidates {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return loadFile(path)
	}

	path, err := Generate(dir)
	if err != nil {
		return nil, err
	}
	return loadFile(path)
}

func loadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg File
	parse := parserFor(path)
	if err := parse(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	cfg.ConfigPath = path
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", filepath.Base(path), err)
	}
	return &cfg, nil
}

func parserFor(path string) func([]byte, *File) error {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return parseYAML
	case ".toml":
		return parseTOML
	default:
		return parseJSON
	}
}

func parseYAML(data []byte, cfg *File) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	return decoder.Decode(cfg)
}

func parseTOML(data []byte, cfg *File) error {
	_, err := toml.Decode(string(data), cfg)
	return err
}

func parseJSON(data []byte, cfg *File) error {
	return json.Unmarshal(data, cfg)
}

// Generate writes a default littleci.json into dir and returns its path.
// The generated secret is random; everything else is a serving default.
func Generate(dir string) (string, error) {
	secret, err := crypto.NewConfigSecret()
	if err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}

	cfg := File{
		Secret:             secret,
		DataDir:            dir,
		NetworkHost:        "0.0.0.0",
		Port:               8000,
		AuthenticationType: Simple,
	}
	data, err := json.MarshalIndent(&cfg, "", "\t")
	if err != nil {
		return "", fmt.Errorf("encode default config: %w", err)
	}

	path := filepath.Join(dir, "littleci.json")
	// The file carries the secret, so keep it owner-only.
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return "", fmt.Errorf("write default config: %w", err)
	}
	return path, nil
}

func (f *File) applyDefaults() {
	if f.AuthenticationType == "" {
		f.AuthenticationType = Simple
	}
}

// Validate checks the file for errors that would make the server
// unbootable.
func (f *File) Validate() error {
	if f.Secret == "" {
		return errors.New("secret is required")
	}
	if f.NetworkHost == "" {
		return errors.New("network_host is required")
	}
	if f.Port == 0 {
		return errors.New("port is required")
	}
	switch f.AuthenticationType {
	case NoAuthentication, Simple:
	default:
		return fmt.Errorf("authentication_type must be %q or %q", NoAuthentication, Simple)
	}
	return nil
}

// Resolve expands the file into the runtime configuration, applying
// environment overrides and absolute paths.
func (f *File) Resolve() (*AppConfig, error) {
	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("working directory: %w", err)
	}

	configPath, err := filepath.Abs(f.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("config path: %w", err)
	}

	dataDir := f.DataDir
	if env := os.Getenv(EnvDataDir); env != "" {
		dataDir = env
	}
	if dataDir == "" {
		dataDir = filepath.Dir(configPath)
	}
	dataDir, err = filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("data directory: %w", err)
	}

	networkHost := f.NetworkHost
	if env := os.Getenv(EnvNetworkHost); env != "" {
		networkHost = env
	}

	port := f.Port
	if env := os.Getenv(EnvPort); env != "" {
		parsed, err := strconv.ParseUint(env, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", EnvPort, err)
		}
		port = uint16(parsed)
	}

	siteURL := f.SiteURL
	if siteURL == "" {
		siteURL = fmt.Sprintf("http://%s:%d", networkHost, port)
	}

	return &AppConfig{
		Signature:          crypto.HashValue(f.Secret),
		ConfigPath:         configPath,
		WorkingDir:         workingDir,
		DataDir:            dataDir,
		NetworkHost:        networkHost,
		SiteURL:            siteURL,
		Port:               port,
		AuthenticationType: f.AuthenticationType,
	}, nil
}
