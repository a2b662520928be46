package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the bridge's process configuration, loaded from YAML with
// environment-variable overrides applied on top.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`

	Demo struct {
		Enabled       bool   `yaml:"enabled"`
		XPub          string `yaml:"xpub"`
		AddressPrefix string `yaml:"address_prefix"`
	} `yaml:"demo"`

	Payment struct {
		DefaultToken   string  `yaml:"default_token"`
		MaxAmountTHB   float64 `yaml:"max_amount_thb"`
		CollectionAddr string  `yaml:"collection_address"`
		OfflineQueue   bool    `yaml:"offline_queue_enabled"`
	} `yaml:"payment"`

	Exchange struct {
		APIURL string `yaml:"api_url"`
	} `yaml:"exchange"`

	Settlement struct {
		APIURL string `yaml:"api_url"`
	} `yaml:"settlement"`

	Chain struct {
		ChainID       int64    `yaml:"chain_id"`
		RPCEndpoints  []string `yaml:"rpc_endpoints"`
		WSEndpoint    string   `yaml:"ws_endpoint"`
		Confirmations int      `yaml:"confirmations"`
	} `yaml:"chain"`

	EIP712 struct {
		DomainName        string `yaml:"domain_name"`
		DomainVersion     string `yaml:"domain_version"`
		VerifyingContract string `yaml:"verifying_contract"`
	} `yaml:"eip712"`

	Network struct {
		ProbeEndpoints []string      `yaml:"probe_endpoints"`
		ProbeInterval  time.Duration `yaml:"probe_interval"`
		ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	} `yaml:"network"`

	Queue struct {
		TickInterval time.Duration `yaml:"tick_interval"`
		MaxRetries   int           `yaml:"max_retries"`
	} `yaml:"queue"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Payment.DefaultToken == "" {
		cfg.Payment.DefaultToken = "USDT"
	}
	if cfg.Payment.MaxAmountTHB == 0 {
		cfg.Payment.MaxAmountTHB = 10000
	}
	if cfg.Chain.ChainID == 0 {
		cfg.Chain.ChainID = 56 // BSC
	}
	if cfg.Chain.Confirmations == 0 {
		cfg.Chain.Confirmations = 3
	}
	if cfg.EIP712.DomainName == "" {
		cfg.EIP712.DomainName = "BoonLink Payment"
	}
	if cfg.EIP712.DomainVersion == "" {
		cfg.EIP712.DomainVersion = "1"
	}
	if cfg.EIP712.VerifyingContract == "" {
		cfg.EIP712.VerifyingContract = "0x0000000000000000000000000000000000000000"
	}
	if cfg.Network.ProbeInterval == 0 {
		cfg.Network.ProbeInterval = 10 * time.Second
	}
	if cfg.Network.ProbeTimeout == 0 {
		cfg.Network.ProbeTimeout = 5 * time.Second
	}
	if len(cfg.Network.ProbeEndpoints) == 0 {
		cfg.Network.ProbeEndpoints = []string{
			"https://www.google.com/generate_204",
			"https://cloudflare.com/cdn-cgi/trace",
			"https://api.binance.com/api/v3/ping",
		}
	}
	if cfg.Queue.TickInterval == 0 {
		cfg.Queue.TickInterval = 10 * time.Second
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("DEMO_MODE"); v != "" {
		cfg.Demo.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DEMO_XPUB"); v != "" {
		cfg.Demo.XPub = v
	}
	if v := os.Getenv("DEFAULT_TOKEN"); v != "" {
		cfg.Payment.DefaultToken = v
	}
	if v := os.Getenv("MAX_AMOUNT_THB"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Payment.MaxAmountTHB = f
		}
	}
	if v := os.Getenv("COLLECTION_ADDRESS"); v != "" {
		cfg.Payment.CollectionAddr = v
	}
	if v := os.Getenv("OFFLINE_QUEUE_ENABLED"); v != "" {
		cfg.Payment.OfflineQueue = v == "true" || v == "1"
	}
	if v := os.Getenv("EXCHANGE_API_URL"); v != "" {
		cfg.Exchange.APIURL = v
	}
	if v := os.Getenv("SETTLEMENT_API_URL"); v != "" {
		cfg.Settlement.APIURL = v
	}
	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.Chain.RPCEndpoints = splitCommaList(v)
	}
	if v := os.Getenv("WS_URL"); v != "" {
		cfg.Chain.WSEndpoint = v
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Chain.ChainID = i
		}
	}
	if v := os.Getenv("EIP712_VERIFYING_CONTRACT"); v != "" {
		cfg.EIP712.VerifyingContract = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true" || v == "1"
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
