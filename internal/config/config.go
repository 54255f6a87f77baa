package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "ORACLE"

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds configuration for the run command, loaded from flags, env, or config file.
type Config struct {
	Store   string
	PGDSN   string
	Migrate bool

	// Settings written at startup when the store has none.
	Authority string
	Custody   string

	Interval  time.Duration
	MaxRounds uint64

	FetchTimeout time.Duration
	MaxBodySize  int64
	ChunkSize    int
	UserAgent    string

	Contract  string
	Topic0Map map[string]string

	Notifications string
	DecodeErrors  string

	APIListen        string
	// APIAdmin mounts the signed /admin routes on the API.
	APIAdmin         bool
	APIAdminMaxSkew  time.Duration
	MetricsNamespace string

	Scheduler SchedulerConfig

	LogLevel string
}

// SchedulerConfig configures the provider scheduler.
type SchedulerConfig struct {
	Enabled           bool
	RPCURL            string
	ProviderURL       string
	ProviderHeaders   map[string]string
	Addresses         []string
	Topic0            []string
	FromBlock         uint64
	Confirmations     uint64
	BatchSize         uint64
	Checkpoint        string
	CheckpointEnabled bool
	Precheck          bool
	MaxRetries        int
	RetryBackoff      time.Duration
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if err := validateStore(c.Store, c.PGDSN); err != nil {
		return err
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be greater than zero")
	}
	if c.APIAdmin {
		if c.APIListen == "" {
			return fmt.Errorf("api-admin needs api-listen")
		}
		if c.Authority != "" && !common.IsHexAddress(c.Authority) {
			return fmt.Errorf("api-admin needs the authority to be a hex address, got %q", c.Authority)
		}
	}
	if c.Scheduler.Enabled {
		if c.Scheduler.RPCURL == "" {
			return fmt.Errorf("scheduler rpc url is required")
		}
		if len(c.Scheduler.Addresses) == 0 {
			return fmt.Errorf("scheduler needs at least one contract address")
		}
		if c.Scheduler.BatchSize == 0 {
			return fmt.Errorf("scheduler batch size must be greater than zero")
		}
	}
	return nil
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("store", StoreMemory)
		v.SetDefault("migrate", true)
		v.SetDefault("interval", 6*time.Second)
		v.SetDefault("fetch-timeout", 100*time.Second)
		v.SetDefault("max-body", int64(32<<20))
		v.SetDefault("chunk-size", 1024)
		v.SetDefault("user-agent", "swap-oracle")
		v.SetDefault("notifications", "./data/notifications.jsonl")
		v.SetDefault("decode-errors", "./data/decode_errors.jsonl")
		v.SetDefault("api-admin-max-skew", 5*time.Minute)
		v.SetDefault("metrics-namespace", "swap_oracle")
		v.SetDefault("scheduler.batch-size", uint64(1000))
		v.SetDefault("scheduler.confirmations", uint64(12))
		v.SetDefault("scheduler.checkpoint", "./data/checkpoint.json")
		v.SetDefault("scheduler.checkpoint-enabled", true)
		v.SetDefault("scheduler.precheck", true)
		v.SetDefault("scheduler.max-retries", 5)
		v.SetDefault("scheduler.retry-backoff", 500*time.Millisecond)
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Store:            strings.ToLower(v.GetString("store")),
		PGDSN:            v.GetString("pg-dsn"),
		Migrate:          v.GetBool("migrate"),
		Authority:        v.GetString("authority"),
		Custody:          v.GetString("custody"),
		Interval:         v.GetDuration("interval"),
		MaxRounds:        v.GetUint64("max-rounds"),
		FetchTimeout:     v.GetDuration("fetch-timeout"),
		MaxBodySize:      v.GetInt64("max-body"),
		ChunkSize:        v.GetInt("chunk-size"),
		UserAgent:        v.GetString("user-agent"),
		Contract:         v.GetString("contract"),
		Topic0Map:        getStringMap(v, "topic0-map"),
		Notifications:    v.GetString("notifications"),
		DecodeErrors:     v.GetString("decode-errors"),
		APIListen:        v.GetString("api-listen"),
		APIAdmin:         v.GetBool("api-admin"),
		APIAdminMaxSkew:  v.GetDuration("api-admin-max-skew"),
		MetricsNamespace: v.GetString("metrics-namespace"),
		Scheduler: SchedulerConfig{
			Enabled:           v.GetBool("scheduler.enabled"),
			RPCURL:            v.GetString("scheduler.rpc"),
			ProviderURL:       v.GetString("scheduler.provider-url"),
			ProviderHeaders:   getStringMap(v, "scheduler.provider-headers"),
			Addresses:         getStringSlice(v, "scheduler.address"),
			Topic0:            getStringSlice(v, "scheduler.topic0"),
			FromBlock:         v.GetUint64("scheduler.from"),
			Confirmations:     v.GetUint64("scheduler.confirmations"),
			BatchSize:         v.GetUint64("scheduler.batch-size"),
			Checkpoint:        v.GetString("scheduler.checkpoint"),
			CheckpointEnabled: v.GetBool("scheduler.checkpoint-enabled"),
			Precheck:          v.GetBool("scheduler.precheck"),
			MaxRetries:        v.GetInt("scheduler.max-retries"),
			RetryBackoff:      v.GetDuration("scheduler.retry-backoff"),
		},
		LogLevel: v.GetString("log-level"),
	}
	if cfg.Scheduler.ProviderURL == "" {
		cfg.Scheduler.ProviderURL = cfg.Scheduler.RPCURL
	}
	if cfg.Contract == "" && len(cfg.Scheduler.Addresses) > 0 {
		cfg.Contract = cfg.Scheduler.Addresses[0]
	}

	return cfg, nil
}

// newViper builds a viper instance with the shared env, flag and config
// file wiring. Nested keys map to env as ORACLE_SCHEDULER_RPC and friends.
func newViper(cfgFile string, flags *pflag.FlagSet, defaults func(*viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if defaults != nil {
		defaults(v)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func validateStore(store, dsn string) error {
	switch store {
	case StoreMemory:
		return nil
	case StorePostgres:
		if dsn == "" {
			return fmt.Errorf("pg-dsn is required for the postgres store")
		}
		return nil
	default:
		return fmt.Errorf("unknown store %q", store)
	}
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

func getStringMap(v *viper.Viper, key string) map[string]string {
	if !v.IsSet(key) {
		return map[string]string{}
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case map[string]string:
		return typed
	case map[string]interface{}:
		out := make(map[string]string, len(typed))
		for k, v := range typed {
			out[k] = fmt.Sprintf("%v", v)
		}
		return out
	case string:
		return parseStringMap(typed)
	default:
		return map[string]string{}
	}
}

func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	pairs := strings.Split(input, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
