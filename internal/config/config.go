package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/ilyakaznacheev/cleanenv"
)

const (
	DefaultListen          = "127.0.0.1:6286"
	DefaultDataDir         = "./data"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultSignupMode      = "token_required"
	DefaultSessionTTL      = 24 * time.Hour
	DefaultAuthTokenWindow = 45 * time.Second
	DefaultInlineThreshold = 16 * 1024
	DefaultMaxFileSize     = 100 * 1024 * 1024
	DefaultChunkSize       = 64 * 1024
	DefaultIngestBuffer    = 4
	DefaultListLimit       = 100
	DefaultListMaxLimit    = 1000
	DefaultBlobReclaim     = "eager"
	DefaultBackend         = "fs"
	DefaultGCGrace         = time.Hour

	// DBFileName and ObjectsDirName live under data_dir.
	DBFileName     = "homeserver.db"
	ObjectsDirName = "objects"

	configPathEnvKey  = "HOMESERVER_CONFIG"
	defaultConfigFile = "homeserver.toml"
)

// ByteSize is a byte count written either as an integer or in human form
// ("16KiB", "2GB").
type ByteSize int64

func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := humanize.ParseBytes(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", text, err)
	}
	*b = ByteSize(parsed)
	return nil
}

// SetValue lets cleanenv read a ByteSize from the environment.
func (b *ByteSize) SetValue(s string) error {
	return b.UnmarshalText([]byte(s))
}

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(humanize.IBytes(uint64(b))), nil
}

func (b ByteSize) String() string { return humanize.IBytes(uint64(b)) }

// S3Config selects the bucket used by the s3 backend.
type S3Config struct {
	Bucket          string `toml:"bucket" env:"HOMESERVER_S3_BUCKET"`
	Region          string `toml:"region" env:"HOMESERVER_S3_REGION"`
	Endpoint        string `toml:"endpoint" env:"HOMESERVER_S3_ENDPOINT"`
	Prefix          string `toml:"prefix" env:"HOMESERVER_S3_PREFIX"`
	AccessKeyID     string `toml:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `toml:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	UsePathStyle    bool   `toml:"use_path_style" env:"HOMESERVER_S3_USE_PATH_STYLE"`
}

// Config defines runtime configuration for the homeserver.
type Config struct {
	Listen          string        `toml:"listen" env:"HOMESERVER_LISTEN"`
	DataDir         string        `toml:"data_dir" env:"HOMESERVER_DATA_DIR"`
	LogLevel        string        `toml:"log_level" env:"HOMESERVER_LOG_LEVEL"`
	LogFormat       string        `toml:"log_format" env:"HOMESERVER_LOG_FORMAT"`
	SignupMode      string        `toml:"signup_mode" env:"HOMESERVER_SIGNUP_MODE"`
	SessionTTL      time.Duration `toml:"session_ttl" env:"HOMESERVER_SESSION_TTL"`
	AuthTokenWindow time.Duration `toml:"auth_token_window" env:"HOMESERVER_AUTH_TOKEN_WINDOW"`
	InlineThreshold ByteSize      `toml:"inline_threshold" env:"HOMESERVER_INLINE_THRESHOLD"`
	MaxFileSize     ByteSize      `toml:"max_file_size" env:"HOMESERVER_MAX_FILE_SIZE"`
	ChunkSize       ByteSize      `toml:"chunk_size" env:"HOMESERVER_CHUNK_SIZE"`
	IngestBuffer    int           `toml:"ingest_buffer" env:"HOMESERVER_INGEST_BUFFER"`
	WriteWorkers    int           `toml:"write_workers" env:"HOMESERVER_WRITE_WORKERS"`
	BlobReclaim     string        `toml:"blob_reclaim" env:"HOMESERVER_BLOB_RECLAIM"`
	CompressInline  bool          `toml:"compress_inline" env:"HOMESERVER_COMPRESS_INLINE"`
	ListLimit       int           `toml:"list_default_limit" env:"HOMESERVER_LIST_DEFAULT_LIMIT"`
	ListMaxLimit    int           `toml:"list_max_limit" env:"HOMESERVER_LIST_MAX_LIMIT"`
	GCGrace         time.Duration `toml:"gc_grace" env:"HOMESERVER_GC_GRACE"`
	Backend         string        `toml:"backend" env:"HOMESERVER_BACKEND"`
	S3              S3Config      `toml:"s3"`

	// Path is the file the config was read from, if any.
	Path string `toml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		Listen:          DefaultListen,
		DataDir:         DefaultDataDir,
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
		SignupMode:      DefaultSignupMode,
		SessionTTL:      DefaultSessionTTL,
		AuthTokenWindow: DefaultAuthTokenWindow,
		InlineThreshold: DefaultInlineThreshold,
		MaxFileSize:     DefaultMaxFileSize,
		ChunkSize:       DefaultChunkSize,
		IngestBuffer:    DefaultIngestBuffer,
		BlobReclaim:     DefaultBlobReclaim,
		CompressInline:  true,
		ListLimit:       DefaultListLimit,
		ListMaxLimit:    DefaultListMaxLimit,
		GCGrace:         DefaultGCGrace,
		Backend:         DefaultBackend,
	}
}

// DBPath is the SQLite database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, DBFileName)
}

// ObjectsDir is the root of the fs backend.
func (c *Config) ObjectsDir() string {
	return filepath.Join(c.DataDir, ObjectsDirName)
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return false, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	return true, nil
}

// Path returns the config file location: $HOMESERVER_CONFIG, or
// homeserver.toml in the working directory.
func Path() (string, error) {
	if path := strings.TrimSpace(os.Getenv(configPathEnvKey)); path != "" {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, defaultConfigFile), nil
}

// Load reads the config file if present and applies env overrides.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom is Load with an explicit file path.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	loaded, err := loadFileIfExists(path, &cfg)
	if err != nil {
		return nil, err
	}
	if loaded {
		cfg.Path = path
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	d := Default()
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.SignupMode = strings.ToLower(strings.TrimSpace(c.SignupMode))
	c.BlobReclaim = strings.ToLower(strings.TrimSpace(c.BlobReclaim))
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))

	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = d.SessionTTL
	}
	if c.AuthTokenWindow <= 0 {
		c.AuthTokenWindow = d.AuthTokenWindow
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.IngestBuffer <= 0 {
		c.IngestBuffer = d.IngestBuffer
	}
	if c.ListLimit <= 0 {
		c.ListLimit = d.ListLimit
	}
	if c.ListMaxLimit <= 0 {
		c.ListMaxLimit = d.ListMaxLimit
	}
	if c.ListLimit > c.ListMaxLimit {
		c.ListLimit = c.ListMaxLimit
	}
	if c.GCGrace <= 0 {
		c.GCGrace = d.GCGrace
	}

	switch c.LogFormat {
	case "", "text":
		c.LogFormat = "text"
	case "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	switch c.SignupMode {
	case "", "open":
		c.SignupMode = "open"
	case "token_required":
	default:
		return fmt.Errorf("signup_mode must be open or token_required, got %q", c.SignupMode)
	}
	switch c.BlobReclaim {
	case "", "eager":
		c.BlobReclaim = "eager"
	case "sweep":
	default:
		return fmt.Errorf("blob_reclaim must be eager or sweep, got %q", c.BlobReclaim)
	}
	switch c.Backend {
	case "", "fs":
		c.Backend = "fs"
	case "memory":
	case "s3":
		if c.S3.Bucket == "" {
			return fmt.Errorf("backend s3 requires s3.bucket")
		}
	default:
		return fmt.Errorf("backend must be fs, memory or s3, got %q", c.Backend)
	}
	return nil
}

var allowedKeys = []string{
	"listen",
	"data_dir",
	"log_level",
	"log_format",
	"signup_mode",
	"session_ttl",
	"auth_token_window",
	"inline_threshold",
	"max_file_size",
	"chunk_size",
	"ingest_buffer",
	"write_workers",
	"blob_reclaim",
	"compress_inline",
	"list_default_limit",
	"list_max_limit",
	"gc_grace",
	"backend",
	"s3.bucket",
	"s3.region",
	"s3.endpoint",
	"s3.prefix",
	"s3.access_key_id",
	"s3.secret_access_key",
	"s3.use_path_style",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	return slices.Contains(allowedKeys, key)
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "listen":
		return c.Listen, nil
	case "data_dir":
		return c.DataDir, nil
	case "log_level":
		return c.LogLevel, nil
	case "log_format":
		return c.LogFormat, nil
	case "signup_mode":
		return c.SignupMode, nil
	case "session_ttl":
		return c.SessionTTL.String(), nil
	case "auth_token_window":
		return c.AuthTokenWindow.String(), nil
	case "inline_threshold":
		return c.InlineThreshold.String(), nil
	case "max_file_size":
		return c.MaxFileSize.String(), nil
	case "chunk_size":
		return c.ChunkSize.String(), nil
	case "ingest_buffer":
		return strconv.Itoa(c.IngestBuffer), nil
	case "write_workers":
		return strconv.Itoa(c.WriteWorkers), nil
	case "blob_reclaim":
		return c.BlobReclaim, nil
	case "compress_inline":
		return strconv.FormatBool(c.CompressInline), nil
	case "list_default_limit":
		return strconv.Itoa(c.ListLimit), nil
	case "list_max_limit":
		return strconv.Itoa(c.ListMaxLimit), nil
	case "gc_grace":
		return c.GCGrace.String(), nil
	case "backend":
		return c.Backend, nil
	case "s3.bucket":
		return c.S3.Bucket, nil
	case "s3.region":
		return c.S3.Region, nil
	case "s3.endpoint":
		return c.S3.Endpoint, nil
	case "s3.prefix":
		return c.S3.Prefix, nil
	case "s3.access_key_id":
		return c.S3.AccessKeyID, nil
	case "s3.secret_access_key":
		if c.S3.SecretAccessKey == "" {
			return "", nil
		}
		return "********", nil
	case "s3.use_path_style":
		return strconv.FormatBool(c.S3.UsePathStyle), nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "inline_threshold", "max_file_size", "chunk_size":
		var size ByteSize
		if err := size.UnmarshalText([]byte(value)); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return value, nil
	case "ingest_buffer", "write_workers", "list_default_limit", "list_max_limit":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("%s must be a non-negative integer", key)
		}
		return int64(parsed), nil
	case "session_ttl", "auth_token_window", "gc_grace":
		if _, err := time.ParseDuration(value); err != nil {
			return nil, fmt.Errorf("%s must be a duration: %w", key, err)
		}
		return value, nil
	case "compress_inline", "s3.use_path_style":
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false", key)
		}
		return parsed, nil
	default:
		return value, nil
	}
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}
