package connection

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sblgo/sbl/pkg/constants"
	"github.com/sblgo/sbl/pkg/logger"
)

// Config holds everything needed to open and authenticate a connection.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8000/rpc.
	URL       string `yaml:"url"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Namespace string `yaml:"namespace"`
	Database  string `yaml:"database"`

	// PoolSize is the number of workers a pool starts.
	PoolSize int `yaml:"pool_size"`
	// Engine selects the websocket implementation, "gorilla" or "gws".
	Engine string `yaml:"engine"`

	// RequestTimeout bounds the wait for a reply after a request was sent.
	// Zero leaves it to the caller's context.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`

	// MigrationTable stores the applied migration versions.
	MigrationTable string `yaml:"migration_table"`

	Logger logger.Logger `yaml:"-"`
}

// NewConfig creates a Config for the endpoint specified by the URL,
// with every other field set to its default.
func NewConfig(u *url.URL) *Config {
	cfg := &Config{
		User:           constants.DefaultUser,
		Password:       constants.DefaultPassword,
		Namespace:      constants.DefaultNamespace,
		Database:       constants.DefaultDatabase,
		PoolSize:       constants.DefaultPoolSize,
		Engine:         constants.EngineGorilla,
		DialTimeout:    constants.DefaultDialTimeout,
		MaxMessageSize: constants.DefaultMaxMessageSize,
		MigrationTable: constants.MigrationTable,
		Logger:         logger.Discard,
	}
	if u != nil {
		cfg.URL = u.String()
	}
	return cfg
}

// Endpoint builds the rpc URL of a server.
func Endpoint(host string, port int, secure bool) string {
	scheme := constants.WebsocketScheme
	if secure {
		scheme = constants.SecureWebsocketScheme
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   constants.RPCPath,
	}
	return u.String()
}

// Validate reports the first problem that would prevent a connection.
func (c *Config) Validate() error {
	if c.URL == "" {
		return constants.ErrNoURL
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", c.URL, err)
	}
	if u.Scheme != constants.WebsocketScheme && u.Scheme != constants.SecureWebsocketScheme {
		return fmt.Errorf("invalid url %q: scheme must be %s or %s",
			c.URL, constants.WebsocketScheme, constants.SecureWebsocketScheme)
	}
	if c.Namespace == "" || c.Database == "" {
		return constants.ErrNoNamespaceOrDB
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool size must be at least 1, got %d", c.PoolSize)
	}
	switch c.Engine {
	case "", constants.EngineGorilla, constants.EngineGWS:
	default:
		return fmt.Errorf("%w: %q", constants.ErrUnknownEngine, c.Engine)
	}
	if c.RequestTimeout < 0 || c.DialTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	return ValidateTableName(c.MigrationTable)
}

// ApplyEnv overrides fields from SBL_* environment variables.
func (c *Config) ApplyEnv() error {
	for env, field := range map[string]*string{
		"SBL_URL":       &c.URL,
		"SBL_USER":      &c.User,
		"SBL_PASSWORD":  &c.Password,
		"SBL_NAMESPACE": &c.Namespace,
		"SBL_DATABASE":  &c.Database,
		"SBL_ENGINE":    &c.Engine,
	} {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*field = v
		}
	}

	if v, ok := os.LookupEnv("SBL_POOL_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SBL_POOL_SIZE: %w", err)
		}
		c.PoolSize = n
	}

	return nil
}

// LoadConfigFile reads a YAML config. Fields missing from the file keep
// their defaults.
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := NewConfig(nil)
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	return cfg, nil
}

// Log returns the configured logger or a discarding one.
func (c *Config) Log() logger.Logger {
	if c.Logger == nil {
		return logger.Discard
	}
	return c.Logger
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateTableName accepts plain identifiers only, so the name can be
// spliced into SurrealQL without quoting.
func ValidateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", constants.ErrInvalidTable, name)
	}
	return nil
}
