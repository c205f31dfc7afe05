package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/htlcswap/ledger"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is the configuration of a swap node.
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	Bitcoin     BitcoinConfig     `yaml:"bitcoin"`
	Ethereum    EthereumConfig    `yaml:"ethereum"`
	HTTP        HTTPConfig        `yaml:"http"`
	Negotiation NegotiationConfig `yaml:"negotiation"`
	NATS        NATSConfig        `yaml:"nats"`
	Database    DatabaseConfig    `yaml:"database"`
	Retry       RetryConfig       `yaml:"retry"`
	// Policy is the path of the acceptance policy. Without one every
	// request is declined.
	Policy string `yaml:"policy"`
}

type BitcoinConfig struct {
	Network       ledger.Network `yaml:"network"`
	BlockInterval time.Duration  `yaml:"block_interval"`
	// RPC is the bitcoind endpoint blocks are read from. Empty disables
	// the listener.
	RPC          string        `yaml:"rpc"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// Identity is this node's pubkey hash, refund and success identity on
	// Bitcoin.
	Identity string `yaml:"identity"`
}

type EthereumConfig struct {
	ChainID      uint64        `yaml:"chain_id"`
	URL          string        `yaml:"url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Identity     string        `yaml:"identity"`
}

type HTTPConfig struct {
	Listen  string `yaml:"listen"`
	Metrics bool   `yaml:"metrics"`
}

type NegotiationConfig struct {
	Listen  string        `yaml:"listen"`
	Timeout time.Duration `yaml:"timeout"`
	// VectorClock stamps frames with GoVector clocks.
	VectorClock bool `yaml:"vector_clock"`
}

type NATSConfig struct {
	// URL empty disables publication.
	URL     string        `yaml:"url"`
	Subject string        `yaml:"subject"`
	Timeout time.Duration `yaml:"timeout"`
}

type DatabaseConfig struct {
	// DSN empty keeps trades in memory.
	DSN string `yaml:"dsn"`
}

type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default is the configuration of a regtest node with everything optional
// turned off.
func Default() Config {
	return Config{
		LogLevel: "info",
		Bitcoin: BitcoinConfig{
			Network:       ledger.Regtest,
			BlockInterval: 10 * time.Minute,
			PollInterval:  5 * time.Second,
		},
		Ethereum: EthereumConfig{
			ChainID:      1337,
			PollInterval: 2 * time.Second,
		},
		HTTP: HTTPConfig{
			Listen:  "127.0.0.1:8000",
			Metrics: true,
		},
		Negotiation: NegotiationConfig{
			Listen:  "127.0.0.1:9939",
			Timeout: 10 * time.Second,
		},
		NATS: NATSConfig{
			Subject: "htlcswap.trades",
			Timeout: 10 * time.Second,
		},
		Retry: RetryConfig{
			Attempts:   5,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies the
// HTLCSWAP_* environment overrides. An empty path only applies the
// overrides.
func Load(path string) (Config, error) {
	conf := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &conf); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := overrideFromEnv(&conf); err != nil {
		return Config{}, err
	}
	if err := conf.Validate(); err != nil {
		return Config{}, err
	}
	return conf, nil
}

func overrideFromEnv(conf *Config) error {
	vars := map[string]*string{
		"HTLCSWAP_LOG_LEVEL":        &conf.LogLevel,
		"HTLCSWAP_DATABASE_DSN":     &conf.Database.DSN,
		"HTLCSWAP_NATS_URL":         &conf.NATS.URL,
		"HTLCSWAP_HTTP_LISTEN":      &conf.HTTP.Listen,
		"HTLCSWAP_BITCOIN_RPC":      &conf.Bitcoin.RPC,
		"HTLCSWAP_BITCOIN_USER":     &conf.Bitcoin.User,
		"HTLCSWAP_BITCOIN_PASSWORD": &conf.Bitcoin.Password,
		"HTLCSWAP_ETHEREUM_URL":     &conf.Ethereum.URL,
		"HTLCSWAP_POLICY":           &conf.Policy,
	}
	for key, dst := range vars {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("HTLCSWAP_ETHEREUM_CHAIN_ID"); ok {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: HTLCSWAP_ETHEREUM_CHAIN_ID: %v", ErrInvalidConfig, err)
		}
		conf.Ethereum.ChainID = id
	}
	return nil
}

// Validate checks the values the node can't start without.
func (c Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log level: %v", ErrInvalidConfig, err)
	}
	if _, err := c.Bitcoin.Network.Params(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Bitcoin.BlockInterval <= 0 {
		return fmt.Errorf("%w: bitcoin block interval must be positive", ErrInvalidConfig)
	}
	if c.Ethereum.ChainID == 0 {
		return fmt.Errorf("%w: ethereum chain id", ErrInvalidConfig)
	}
	if c.Retry.Backoff <= 0 {
		return fmt.Errorf("%w: retry backoff must be positive", ErrInvalidConfig)
	}
	if c.Retry.MaxBackoff < 0 || (c.Retry.MaxBackoff > 0 && c.Retry.MaxBackoff < c.Retry.Backoff) {
		return fmt.Errorf("%w: retry max backoff below backoff", ErrInvalidConfig)
	}
	return nil
}

// Ledgers are the configured networks.
func (c Config) Ledgers() (ledger.Bitcoin, ledger.Ethereum) {
	return ledger.Bitcoin{Network: c.Bitcoin.Network}, ledger.Ethereum{ChainID: c.Ethereum.ChainID}
}
