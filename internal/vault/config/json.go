package config

import (
	"encoding/json"
	"os"

	"github.com/heirkeep/vault/internal/flagx"
	"github.com/heirkeep/vault/internal/timex"
)

// JsonConfig is the intermediate DTO for reading JSON configuration files.
// Interval fields use timex.Duration so both "15m" strings and integer
// nanoseconds parse; values are copied into the runtime Config afterwards.
type JsonConfig struct {
	DatabaseDSN        string         `json:"database_dsn"`
	S3AccessKey        string         `json:"s3_access_key"`
	S3SecretKey        string         `json:"s3_secret_key"`
	S3Bucket           string         `json:"s3_bucket"`
	S3Region           string         `json:"s3_region"`
	S3BaseEndpoint     string         `json:"s3_base_endpoint"`
	KMSKeyID           string         `json:"kms_key_id"`
	LocalKMSPassphrase string         `json:"local_kms_passphrase"`
	LocalKMSSalt       string         `json:"local_kms_salt"`
	PresignTTL         timex.Duration `json:"presign_ttl"`
}

// parseJson overlays configuration from the JSON file named by the -c/-config
// flags, when present. An unreadable or invalid file panics: a config file
// that was explicitly pointed at must not be silently skipped.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := applyJson(config, data); err != nil {
		panic(err)
	}
}

// LoadFile builds a Config from defaults overlaid with the given JSON file.
// Unlike LoadConfig it never touches os.Args, so commands that do their own
// flag handling can use it.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := applyJson(cfg, data); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyJson(config *Config, data []byte) error {
	c := &JsonConfig{}
	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.S3AccessKey != "" {
		config.S3AccessKey = c.S3AccessKey
	}
	if c.S3SecretKey != "" {
		config.S3SecretKey = c.S3SecretKey
	}
	if c.S3Bucket != "" {
		config.S3Bucket = c.S3Bucket
	}
	if c.S3Region != "" {
		config.S3Region = c.S3Region
	}
	if c.S3BaseEndpoint != "" {
		config.S3BaseEndpoint = c.S3BaseEndpoint
	}
	if c.KMSKeyID != "" {
		config.KMSKeyID = c.KMSKeyID
	}
	if c.LocalKMSPassphrase != "" {
		config.LocalKMSPassphrase = c.LocalKMSPassphrase
	}
	if c.LocalKMSSalt != "" {
		config.LocalKMSSalt = c.LocalKMSSalt
	}
	if c.PresignTTL.Duration != 0 {
		config.PresignTTL = c.PresignTTL.Duration
	}
	return nil
}
