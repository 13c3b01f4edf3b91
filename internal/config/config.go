package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Storage struct {
		// DataDir holds one database file per conversation pair.
		DataDir         string `yaml:"data_dir"`
		DirectoryDriver string `yaml:"directory_driver"`
		DirectoryDSN    string `yaml:"directory_dsn"`
	} `yaml:"storage"`
	Uploads struct {
		Dir      string `yaml:"dir"`
		MaxBytes int64  `yaml:"max_bytes"`
	} `yaml:"uploads"`
	Auth struct {
		CookieSecret string `yaml:"cookie_secret"`
		SecureCookie bool   `yaml:"secure_cookie"`
	} `yaml:"auth"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	StaticDir string `yaml:"static_dir"`
}

func Default() *Config {
	c := &Config{}
	c.Server.Addr = ":8080"
	c.Storage.DataDir = "data/chats"
	c.Storage.DirectoryDriver = "sqlite3"
	c.Storage.DirectoryDSN = "data/directory.db"
	c.Uploads.Dir = "data/uploads"
	c.Uploads.MaxBytes = 25 << 20
	c.Logging.Level = "info"
	c.Logging.Format = "text"
	c.StaticDir = "static"
	return c
}

// Flags are the command-line overrides. Set records which were given
// explicitly.
type Flags struct {
	Config string
	Addr   string
	Data   string
	Set    map[string]bool
}

func ParseFlags(fs *flag.FlagSet, args []string) (Flags, error) {
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	addr := fs.String("addr", ":8080", "http service address")
	data := fs.String("data", "data/chats", "directory for conversation databases")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{Config: *cfgPath, Addr: *addr, Data: *data, Set: set}, nil
}

// Load builds the effective config. Precedence is flag, then environment
// (including .env), then the config file, then defaults. A missing config
// file is not an error unless it was named explicitly.
func Load(flags Flags) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := Default()

	path := flags.Config
	if env := os.Getenv("PAIRCHAT_CONFIG"); env != "" && !flags.Set["config"] {
		path = env
	}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err) && !flags.Set["config"]:
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if flags.Set["addr"] {
		cfg.Server.Addr = flags.Addr
	}
	if flags.Set["data"] {
		cfg.Storage.DataDir = flags.Data
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"PAIRCHAT_ADDR":             &cfg.Server.Addr,
		"PAIRCHAT_DATA_DIR":         &cfg.Storage.DataDir,
		"PAIRCHAT_DIRECTORY_DRIVER": &cfg.Storage.DirectoryDriver,
		"PAIRCHAT_DIRECTORY_DSN":    &cfg.Storage.DirectoryDSN,
		"PAIRCHAT_UPLOAD_DIR":       &cfg.Uploads.Dir,
		"PAIRCHAT_COOKIE_SECRET":    &cfg.Auth.CookieSecret,
		"PAIRCHAT_LOG_LEVEL":        &cfg.Logging.Level,
		"PAIRCHAT_LOG_FORMAT":       &cfg.Logging.Format,
		"PAIRCHAT_STATIC_DIR":       &cfg.StaticDir,
	}
	for name, dst := range str {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("PAIRCHAT_UPLOAD_MAX_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("PAIRCHAT_UPLOAD_MAX_BYTES: %w", err)
		}
		cfg.Uploads.MaxBytes = n
	}
	if v, ok := os.LookupEnv("PAIRCHAT_SECURE_COOKIE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PAIRCHAT_SECURE_COOKIE: %w", err)
		}
		cfg.Auth.SecureCookie = b
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Storage.DirectoryDriver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("storage.directory_driver must be sqlite3 or postgres, got %q", c.Storage.DirectoryDriver)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	if c.Uploads.Dir == "" {
		return fmt.Errorf("uploads.dir is required")
	}
	if c.Uploads.MaxBytes < 0 {
		return fmt.Errorf("uploads.max_bytes must not be negative")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}
