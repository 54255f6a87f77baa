package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"swapOracle/internal/model"
)

// AdminConfig holds configuration for the init, kickoff, killall and status
// commands, which work directly against the postgres store.
type AdminConfig struct {
	PGDSN    string
	Migrate  bool
	LogLevel string

	Caller    string
	Authority string
	Custody   string

	Job model.FetchJob
}

// LoadAdmin merges config file, environment variables, and flags into AdminConfig.
func LoadAdmin(cfgFile string, flags *pflag.FlagSet) (AdminConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("migrate", true)
		v.SetDefault("kind", "explorer")
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return AdminConfig{}, err
	}

	cfg := AdminConfig{
		PGDSN:     v.GetString("pg-dsn"),
		Migrate:   v.GetBool("migrate"),
		LogLevel:  v.GetString("log-level"),
		Caller:    v.GetString("caller"),
		Authority: v.GetString("authority"),
		Custody:   v.GetString("custody"),
	}
	if err := validateStore(StorePostgres, cfg.PGDSN); err != nil {
		return AdminConfig{}, err
	}

	if url := v.GetString("url"); url != "" {
		kind, err := model.ParseSourceKind(v.GetString("kind"))
		if err != nil {
			return AdminConfig{}, fmt.Errorf("kind: %w", err)
		}
		body := []byte(v.GetString("body"))
		if path := v.GetString("body-file"); path != "" {
			body, err = os.ReadFile(path)
			if err != nil {
				return AdminConfig{}, fmt.Errorf("read body file: %w", err)
			}
		}
		if len(strings.TrimSpace(string(body))) == 0 {
			body = nil
		}
		cfg.Job = model.FetchJob{
			Kind:    kind,
			URL:     url,
			Body:    body,
			Headers: getStringMap(v, "header"),
		}
	}

	return cfg, nil
}
