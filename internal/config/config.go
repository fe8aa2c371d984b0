package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-yaml/yaml"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	Server Server `yaml:"server"`
	Ledger Ledger `yaml:"ledger"`
}

type Server struct {
	ListenAddr    string        `yaml:"listenAddr"`
	PostgresDsn   string        `yaml:"postgresDsn"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB"`
	MemcachedAddr string        `yaml:"memcachedAddr"`
	CorsOrigin    string        `yaml:"corsOrigin"`
	CookieName    string        `yaml:"cookieName"`
	CookieSecure  bool          `yaml:"cookieSecure"`
	SessionTTL    time.Duration `yaml:"sessionTTL"`
	EnableTrace   bool          `yaml:"enableTrace"`
	TraceEndpoint string        `yaml:"traceEndpoint"`
}

type Ledger struct {
	RPCURL            string        `yaml:"rpcURL"`
	ChainID           int64         `yaml:"chainID"`
	ContractAddress   string        `yaml:"contractAddress"`
	PrivateKey        string        `yaml:"privateKey"`
	ABIPath           string        `yaml:"abiPath"`
	ConfirmTimeout    time.Duration `yaml:"confirmTimeout"`
	ReconcileInterval time.Duration `yaml:"reconcileInterval"`
	MaxAttempts       int           `yaml:"maxAttempts"`
}

// Load reads the YAML file at path, then lets a .env file and the process
// environment override secrets. A missing config file is not an error when
// the environment supplies everything.
func Load(path string) (Config, error) {
	var config Config

	file, err := os.Open(path)
	switch {
	case err == nil:
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&config); err != nil {
			return Config{}, errors.Wrapf(err, "failed to parse %s", path)
		}
	case os.IsNotExist(err):
	default:
		return Config{}, errors.Wrapf(err, "failed to open %s", path)
	}

	// .env is optional
	_ = godotenv.Load()

	config.applyEnv()
	config.applyDefaults()

	return config, nil
}

func (c *Config) applyEnv() {
	override := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override("AGRICHAIN_POSTGRES_DSN", &c.Server.PostgresDsn)
	override("AGRICHAIN_REDIS_ADDR", &c.Server.RedisAddr)
	override("AGRICHAIN_LEDGER_PRIVATE_KEY", &c.Ledger.PrivateKey)
	override("AGRICHAIN_LEDGER_RPC_URL", &c.Ledger.RPCURL)
	override("AGRICHAIN_CONTRACT_ADDRESS", &c.Ledger.ContractAddress)
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8000"
	}
	if c.Server.RedisAddr == "" {
		c.Server.RedisAddr = "localhost:6379"
	}
	if c.Server.CorsOrigin == "" {
		c.Server.CorsOrigin = "http://localhost:3000"
	}
	if c.Server.CookieName == "" {
		c.Server.CookieName = "agrichain_session"
	}
	if c.Server.SessionTTL <= 0 {
		c.Server.SessionTTL = 24 * time.Hour
	}
	if c.Ledger.ChainID == 0 {
		c.Ledger.ChainID = 1337
	}
	if c.Ledger.ConfirmTimeout <= 0 {
		c.Ledger.ConfirmTimeout = 60 * time.Second
	}
	if c.Ledger.ReconcileInterval <= 0 {
		c.Ledger.ReconcileInterval = 30 * time.Second
	}
	if c.Ledger.MaxAttempts <= 0 {
		c.Ledger.MaxAttempts = 10
	}
}

func (c Config) Validate() error {
	if c.Server.PostgresDsn == "" {
		return errors.New("server.postgresDsn is required")
	}
	if c.Ledger.ContractAddress == "" {
		return errors.New("ledger.contractAddress is required")
	}
	return nil
}
