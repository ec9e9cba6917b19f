package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

var (
	envFilePath string
	flagOnce    sync.Once
)

// MustLoad is Load for wiring code that cannot continue without its config.
func MustLoad[T any](prefix string) *T {
	conf, err := Load[T](prefix)
	if err != nil {
		panic(err)
	}
	return conf
}

// Load exports the resolved env file (if any) into the process environment,
// then populates T from envconfig-tagged fields under the given prefix.
func Load[T any](prefix string) (*T, error) {
	if path := resolveEnvFile(); path != "" {
		if err := exportEnvFile(path, true); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	} else if err := exportEnvFile(".env", false); err != nil {
		return nil, fmt.Errorf("load default env file: %w", err)
	}

	var conf T
	if err := envconfig.Process(prefix, &conf); err != nil {
		return nil, err
	}
	return &conf, nil
}

// resolveEnvFile prefers the -env-file flag, then the ENV_FILE variable.
func resolveEnvFile() string {
	flagOnce.Do(func() {
		if flag.Lookup("env-file") == nil {
			flag.StringVar(&envFilePath, "env-file", "", "path to .env file")
		}
		if !flag.Parsed() {
			flag.Parse()
		}
	})
	if trimmed := strings.TrimSpace(envFilePath); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(os.Getenv("ENV_FILE"))
}

func exportEnvFile(path string, required bool) error {
	info, err := os.Stat(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		if required {
			return fmt.Errorf("%s is a directory", path)
		}
		return nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	for key, val := range v.AllSettings() {
		if err := os.Setenv(strings.ToUpper(key), fmt.Sprint(val)); err != nil {
			return err
		}
	}
	return nil
}
