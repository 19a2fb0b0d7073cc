package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort           = 8080
	defaultUploadDir      = "uploads"
	defaultOutputDir      = "outputs"
	defaultMaxUploadBytes = 50 * 1024 * 1024
	defaultLanguage       = "en"
	defaultRedisAddr      = "localhost:6379"
	defaultQueueName      = "ocr"
	defaultDeployment     = "gpt-4o"
	defaultAPIVersion     = "2024-08-01-preview"
	defaultAccessTTLMin   = 30
	defaultRefreshTTLDays = 7
	defaultConcurrency    = 4
)

// Dispatch strategies and store backends selectable at configuration time.
const (
	DispatchInline = "inline"
	DispatchQueue  = "queue"

	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config describes runtime configuration for the service. Credentials are
// never read from the file; they come from the environment.
type Config struct {
	Port              int      `yaml:"port"`
	UploadDir         string   `yaml:"upload_dir"`
	OutputDir         string   `yaml:"output_dir"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	MaxUploadBytes    int64    `yaml:"max_upload_bytes"`
	DefaultLanguage   string   `yaml:"default_language"`
	Dispatch          string   `yaml:"dispatch"`
	Store             string   `yaml:"store"`
	RedisAddr         string   `yaml:"redis_addr"`
	QueueName         string   `yaml:"queue_name"`
	WorkerConcurrency int      `yaml:"worker_concurrency"`

	OCR   OCRConfig   `yaml:"ocr"`
	Azure AzureConfig `yaml:"azure"`
	Auth  AuthConfig  `yaml:"auth"`
}

type OCRConfig struct {
	TessdataDir  string `yaml:"tessdata_dir"`
	RequireLocal bool   `yaml:"require_local_models"`
}

type AzureConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
	APIKey     string `yaml:"-"`
}

type AuthConfig struct {
	AccessTTLMinutes int    `yaml:"access_ttl_minutes"`
	RefreshTTLDays   int    `yaml:"refresh_ttl_days"`
	JWTSecret        string `yaml:"-"`
	APIKey           string `yaml:"-"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Port:              defaultPort,
		UploadDir:         defaultUploadDir,
		OutputDir:         defaultOutputDir,
		AllowedExtensions: []string{".png", ".jpg", ".jpeg", ".pdf", ".bmp", ".tiff", ".tif", ".webp"},
		MaxUploadBytes:    defaultMaxUploadBytes,
		DefaultLanguage:   defaultLanguage,
		Dispatch:          DispatchInline,
		Store:             StoreMemory,
		RedisAddr:         defaultRedisAddr,
		QueueName:         defaultQueueName,
		WorkerConcurrency: defaultConcurrency,
		Azure: AzureConfig{
			Deployment: defaultDeployment,
			APIVersion: defaultAPIVersion,
		},
		Auth: AuthConfig{
			AccessTTLMinutes: defaultAccessTTLMin,
			RefreshTTLDays:   defaultRefreshTTLDays,
		},
	}
}

// Load reads YAML config from the provided path. A missing or empty file
// yields defaults with no error. Environment variables always win for
// credentials and Redis address.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return applyEnv(cfg), nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) > 0 {
		if err := yaml.Unmarshal(fileData, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = defaultUploadDir
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = defaultOutputDir
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = defaultLanguage
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = defaultConcurrency
	}
	switch cfg.Dispatch {
	case "", DispatchInline:
		cfg.Dispatch = DispatchInline
	case DispatchQueue:
	default:
		return cfg, fmt.Errorf("invalid dispatch: %q (must be %q or %q)", cfg.Dispatch, DispatchInline, DispatchQueue)
	}
	switch cfg.Store {
	case "", StoreMemory:
		cfg.Store = StoreMemory
	case StoreRedis:
	default:
		return cfg, fmt.Errorf("invalid store: %q (must be %q or %q)", cfg.Store, StoreMemory, StoreRedis)
	}
	cfg.AllowedExtensions = normalizeExtensions(cfg.AllowedExtensions)
	return applyEnv(cfg), nil
}

func applyEnv(cfg Config) Config {
	if v := strings.TrimSpace(os.Getenv("JWT_SECRET_KEY")); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("API_SECRET_KEY")); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("AZURE_OPENAI_KEY")); v != "" {
		cfg.Azure.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("AZURE_OPENAI_ENDPOINT")); v != "" {
		cfg.Azure.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.RedisAddr = v
	}
	return cfg
}

func normalizeExtensions(in []string) []string {
	if len(in) == 0 {
		return Default().AllowedExtensions
	}
	seen := make(map[string]struct{}, len(in))
	normalized := make([]string, 0, len(in))
	for _, ext := range in {
		e := strings.ToLower(strings.TrimSpace(ext))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		normalized = append(normalized, e)
	}
	return normalized
}
