package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g. EASYTRACK_TELEGRAM_TOKEN.
const EnvPrefix = "EASYTRACK"

// envOverrides are applied on top of the file after every parse. Secrets
// normally live here rather than in the file.
type envOverrides struct {
	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`
	DryRun        *bool  `envconfig:"DRY_RUN"`
	StorageDriver string `envconfig:"STORAGE_DRIVER"`
	StoragePath   string `envconfig:"STORAGE_PATH"`
	StorageDSN    string `envconfig:"STORAGE_DSN"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	OpsAddr       string `envconfig:"OPS_ADDR"`
	OpsToken      string `envconfig:"OPS_TOKEN"`
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error; variables already set are kept.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, env.TelegramToken)
	set(&cfg.Storage.Driver, env.StorageDriver)
	set(&cfg.Storage.Path, env.StoragePath)
	set(&cfg.Storage.DSN, env.StorageDSN)
	set(&cfg.Logging.Level, env.LogLevel)
	set(&cfg.Ops.Addr, env.OpsAddr)
	set(&cfg.Ops.Token, env.OpsToken)
	if env.DryRun != nil {
		cfg.Telegram.DryRun = *env.DryRun
	}
	return nil
}
