package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"swapOracle/internal/model"
)

// DecodeConfig holds configuration for the decode command.
type DecodeConfig struct {
	In        string
	Kind      model.SourceKind
	Out       string
	Errors    string
	Contract  string
	Topic0Map map[string]string
	LogLevel  string
}

// LoadDecode merges config file, environment variables, and flags into DecodeConfig.
func LoadDecode(cfgFile string, flags *pflag.FlagSet) (DecodeConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("kind", "explorer")
		v.SetDefault("out", "./data/swap_events.jsonl")
		v.SetDefault("errors", "./data/decode_errors.jsonl")
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return DecodeConfig{}, err
	}

	kind, err := model.ParseSourceKind(v.GetString("kind"))
	if err != nil {
		return DecodeConfig{}, fmt.Errorf("kind: %w", err)
	}

	cfg := DecodeConfig{
		In:        v.GetString("in"),
		Kind:      kind,
		Out:       v.GetString("out"),
		Errors:    v.GetString("errors"),
		Contract:  v.GetString("contract"),
		Topic0Map: getStringMap(v, "topic0-map"),
		LogLevel:  v.GetString("log-level"),
	}
	if cfg.In == "" {
		return DecodeConfig{}, fmt.Errorf("in is required")
	}

	return cfg, nil
}
