package mailer

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	// EnvDbHost is the environment variable name for the database host.
	EnvDbHost = "DB_HOST"
	// EnvDbName is the environment variable name for the database name.
	EnvDbName = "DB_NAME"
	// EnvDbUser is the environment variable name for the database user.
	EnvDbUser = "DB_USER"
	// EnvDbPassword is the environment variable name for the database password.
	EnvDbPassword = "DB_PASSWORD"
	// EnvDbSSLMode is the environment variable name for the database SSL mode.
	EnvDbSSLMode = "DB_SSLMODE"
	// EnvStoreDriver selects the property store backend.
	EnvStoreDriver = "STORE_DRIVER"
	// EnvStorePath is the sqlite or bolt file of the property store.
	EnvStorePath = "STORE_PATH"
	// EnvSMTPHost is the environment variable name for the SMTP submission host.
	EnvSMTPHost = "SMTP_HOST"
)

// Store drivers.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreBolt     = "bolt"
)

// Config holds the application configuration settings.
type Config struct {
	AppIDs         []string `json:"api-keys"`
	MyDomain       string   `json:"mydomain"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	SMTPHost       string   `json:"smtp-host"`
	SMTPPort       int      `json:"smtp-port"`
	StoreDriver    string   `json:"store-driver"`
	StorePath      string   `json:"store-path"`
	DbHost         string   `json:"dbhost"`
	DbName         string   `json:"dbname"`
	DbUser         string   `json:"dbuser"`
	DbPassword     string   `json:"dbpassword"`
	DbSSLMode      string   `json:"dbsslmode"`
	UseKeyring     bool     `json:"keyring"`
	KeyringService string   `json:"keyring-service"`
	Templates      string   `json:"templates"`
	Signature      string   `json:"signature"`
}

// DefaultConfig returns the default configuration values.
func DefaultConfig() *Config {
	return &Config{Host: "0.0.0.0",
		Port:           8334,
		MyDomain:       "local",
		SMTPHost:       "smtp.gmail.com",
		SMTPPort:       587,
		StoreDriver:    StoreSQLite,
		StorePath:      "mailroom.db",
		DbHost:         "localhost",
		DbName:         "mailroom",
		DbUser:         "mailroom",
		DbSSLMode:      "disable",
		KeyringService: "mailroom-mailer",
		Signature:      "Mail Room",
		AppIDs:         []string{},
	}
}

// ParseConfig decodes a JSON configuration document (the MAILER_CONFIG
// value) over DefaultConfig and applies the environment overrides.  An
// empty document yields the defaults.
func ParseConfig(configStr string) (*Config, error) {
	config := DefaultConfig()

	if configStr == "" {
		return overwriteConfigFromEnv(config), nil
	}
	decoder := json.NewDecoder(strings.NewReader(configStr))
	err := decoder.Decode(config)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return overwriteConfigFromEnv(config), nil
}

// overwriteConfigFromEnv overrides configuration values with environment
// variables when they are set.
func overwriteConfigFromEnv(config *Config) *Config {
	overrides := []struct {
		env   string
		field *string
	}{
		{EnvDbHost, &config.DbHost},
		{EnvDbName, &config.DbName},
		{EnvDbUser, &config.DbUser},
		{EnvDbPassword, &config.DbPassword},
		{EnvDbSSLMode, &config.DbSSLMode},
		{EnvStoreDriver, &config.StoreDriver},
		{EnvStorePath, &config.StorePath},
		{EnvSMTPHost, &config.SMTPHost},
	}
	for _, o := range overrides {
		if value, found := os.LookupEnv(o.env); found {
			*o.field = value
		}
	}
	return config
}
