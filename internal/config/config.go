package config

import (
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort        = 3001
	DefaultCORSOrigin  = "http://localhost:3000"
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultQStashURL   = "https://qstash.upstash.io"
	DefaultDelay       = 60 * time.Second
	DefaultTTLSeconds  = 3600
)

// Store drivers
const (
	DriverRedis    = "redis"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Server struct {
		Port       int    `yaml:"port"`
		Env        string `yaml:"env"`
		CORSOrigin string `yaml:"corsOrigin"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	OpenAI struct {
		APIKey      string  `yaml:"apiKey"`
		Model       string  `yaml:"model"`
		BaseURL     string  `yaml:"baseURL"`
		Temperature float32 `yaml:"temperature"`
	} `yaml:"openai"`

	QStash struct {
		URL               string        `yaml:"url"`
		Token             string        `yaml:"token"`
		WebhookURL        string        `yaml:"webhookURL"`
		CurrentSigningKey string        `yaml:"currentSigningKey"`
		NextSigningKey    string        `yaml:"nextSigningKey"`
		Delay             time.Duration `yaml:"delay"`
	} `yaml:"qstash"`

	Store struct {
		Driver     string `yaml:"driver"`
		RedisURL   string `yaml:"redisURL"`
		TTLSeconds int    `yaml:"ttlSeconds"`
	} `yaml:"store"`

	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rateLimit"`
}

// Load builds the config: .env (if any), then the YAML file at path (if it
// exists), then environment overrides, then defaults. Call Validate before use.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, errors.Wrapf(err, "read config %s", path)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, errors.Wrapf(err, "parse config %s", path)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []string
	str := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(dst *int, key string) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: not an integer", key))
				return
			}
			*dst = n
		}
	}

	num(&c.Server.Port, "PORT")
	str(&c.Server.Env, "APP_ENV")
	str(&c.Server.CORSOrigin, "CORS_ORIGIN")
	str(&c.Log.Level, "LOG_LEVEL")
	str(&c.Log.Format, "LOG_FORMAT")

	str(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	str(&c.OpenAI.Model, "OPENAI_MODEL")
	str(&c.OpenAI.BaseURL, "OPENAI_BASE_URL")
	if v, ok := lookup("OPENAI_TEMPERATURE"); ok && v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 32)
		if err != nil {
			errs = append(errs, "OPENAI_TEMPERATURE: not a number")
		} else {
			c.OpenAI.Temperature = float32(f)
		}
	}

	str(&c.QStash.URL, "QSTASH_URL")
	str(&c.QStash.Token, "QSTASH_TOKEN")
	str(&c.QStash.WebhookURL, "QSTASH_WEBHOOK_URL")
	str(&c.QStash.CurrentSigningKey, "QSTASH_CURRENT_SIGNING_KEY")
	str(&c.QStash.NextSigningKey, "QSTASH_NEXT_SIGNING_KEY")
	if v, ok := lookup("QSTASH_DELAY"); ok && v != "" {
		d, err := ParseDelay(v)
		if err != nil {
			errs = append(errs, "QSTASH_DELAY: "+err.Error())
		} else {
			c.QStash.Delay = d
		}
	}

	str(&c.Store.Driver, "STORE_DRIVER")
	str(&c.Store.RedisURL, "REDIS_URL")
	// invalid TTL values fall back to the default instead of failing
	if v, ok := lookup("ANALYSIS_TTL_SECONDS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			n = DefaultTTLSeconds
		}
		c.Store.TTLSeconds = n
	}

	str(&c.Database.Host, "DATABASE_HOST")
	num(&c.Database.Port, "DATABASE_PORT")
	str(&c.Database.User, "DATABASE_USER")
	str(&c.Database.Password, "DATABASE_PASSWORD")
	str(&c.Database.Name, "DATABASE_NAME")
	str(&c.Database.SSLMode, "DATABASE_SSLMODE")

	if v, ok := lookup("RATE_LIMIT_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, "RATE_LIMIT_RPS: not a number")
		} else {
			c.RateLimit.RPS = f
		}
	}
	num(&c.RateLimit.Burst, "RATE_LIMIT_BURST")

	if len(errs) > 0 {
		return errors.Newf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Server.CORSOrigin == "" {
		c.Server.CORSOrigin = DefaultCORSOrigin
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = DefaultModel
	}
	if c.OpenAI.Temperature == 0 {
		c.OpenAI.Temperature = DefaultTemperature
	}
	if c.QStash.URL == "" {
		c.QStash.URL = DefaultQStashURL
	}
	if c.QStash.Delay == 0 {
		c.QStash.Delay = DefaultDelay
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverRedis
	}
	c.Store.Driver = strings.ToLower(c.Store.Driver)
	if c.Store.TTLSeconds <= 0 {
		c.Store.TTLSeconds = DefaultTTLSeconds
	}
	if c.Database.Port == 0 {
		switch c.Store.Driver {
		case DriverPostgres:
			c.Database.Port = 5432
		default:
			c.Database.Port = 3306
		}
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 1
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 5
	}
}

// Validate reports every missing or malformed setting the server needs.
func (c *Config) Validate() error {
	missing := c.storeProblems()
	require := func(v, key string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, key)
		}
	}
	require(c.OpenAI.APIKey, "OPENAI_API_KEY")
	require(c.QStash.Token, "QSTASH_TOKEN")
	require(c.QStash.WebhookURL, "QSTASH_WEBHOOK_URL")
	require(c.QStash.CurrentSigningKey, "QSTASH_CURRENT_SIGNING_KEY")
	require(c.QStash.NextSigningKey, "QSTASH_NEXT_SIGNING_KEY")

	if c.QStash.WebhookURL != "" {
		if u, err := url.ParseRequestURI(c.QStash.WebhookURL); err != nil || u.Host == "" {
			missing = append(missing, "QSTASH_WEBHOOK_URL (must be an absolute URL)")
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		missing = append(missing, "PORT (out of range)")
	}
	return problems(missing)
}

// ValidateWorker checks what is needed to process records without the HTTP
// server: the store and the AI provider.
func (c *Config) ValidateWorker() error {
	list := c.storeProblems()
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		list = append(list, "OPENAI_API_KEY")
	}
	return problems(list)
}

// ValidateStore checks only what is needed to open the record store.
func (c *Config) ValidateStore() error {
	return problems(c.storeProblems())
}

func (c *Config) storeProblems() []string {
	var out []string
	switch c.Store.Driver {
	case DriverRedis:
		if c.Store.RedisURL == "" {
			out = append(out, "REDIS_URL")
		}
	case DriverMySQL, DriverPostgres:
		if c.Database.Host == "" {
			out = append(out, "DATABASE_HOST")
		}
		if c.Database.User == "" {
			out = append(out, "DATABASE_USER")
		}
		if c.Database.Name == "" {
			out = append(out, "DATABASE_NAME")
		}
	case DriverMemory:
	default:
		out = append(out, fmt.Sprintf("STORE_DRIVER (unknown driver %q)", c.Store.Driver))
	}
	return out
}

func problems(list []string) error {
	if len(list) == 0 {
		return nil
	}
	return errors.Newf("missing or invalid config: %s", strings.Join(list, ", "))
}

// TTL is the record retention window.
func (c *Config) TTL() time.Duration {
	if c.Store.TTLSeconds <= 0 {
		return DefaultTTLSeconds * time.Second
	}
	return time.Duration(c.Store.TTLSeconds) * time.Second
}

// ParseDelay accepts a Go duration ("90s", "2m") or a plain number of seconds.
func ParseDelay(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return 0, errors.New("must not be negative")
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Newf("invalid duration %q", v)
	}
	if d < 0 {
		return 0, errors.New("must not be negative")
	}
	return d, nil
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq connection URL.
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     "/" + c.Database.Name,
		RawQuery: url.Values{"sslmode": {c.Database.SSLMode}}.Encode(),
	}
	return u.String()
}
