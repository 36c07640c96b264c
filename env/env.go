package env

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const DefaultEnvFile = ".env"

// InitConfig loads .env when present and fills config from the environment.
func InitConfig(config any) error {
	// nolint:errcheck // .env file is optional, failure is acceptable
	_ = godotenv.Load(DefaultEnvFile)

	return process(config)
}

// InitConfigFrom is InitConfig with an explicit env file that must exist.
// Variables already set in the environment win over the file.
func InitConfigFrom(path string, config any) error {
	if path == "" {
		return InitConfig(config)
	}
	if _, err := os.Stat(path); err != nil {
		return errors.Wrapf(err, "env file %s", path)
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "failed to load env file %s", path)
	}

	return process(config)
}

func process(config any) error {
	if err := envconfig.Process("", config); err != nil {
		return errors.Wrap(err, "failed to envconfig.Process")
	}

	return nil
}
