package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	NegativeStockAllow  = "allow"
	NegativeStockReject = "reject"

	BlobDriverMemory = "memory"
	BlobDriverS3     = "s3"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	NegativeStockPolicy string `mapstructure:"NEGATIVE_STOCK_POLICY"`
	ExpiryWarningDays   int    `mapstructure:"EXPIRY_WARNING_DAYS"`
	SampleIDMaxRetries  int    `mapstructure:"SAMPLE_ID_MAX_RETRIES"`

	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`

	BlobDriver      string `mapstructure:"BLOB_DRIVER"`
	BlobS3Bucket    string `mapstructure:"BLOB_S3_BUCKET"`
	BlobS3Region    string `mapstructure:"BLOB_S3_REGION"`
	BlobS3Endpoint  string `mapstructure:"BLOB_S3_ENDPOINT"`
	BlobS3PathStyle bool   `mapstructure:"BLOB_S3_PATH_STYLE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"NEGATIVE_STOCK_POLICY", "EXPIRY_WARNING_DAYS", "SAMPLE_ID_MAX_RETRIES",
	"METRICS_ENABLED",
	"BLOB_DRIVER", "BLOB_S3_BUCKET", "BLOB_S3_REGION", "BLOB_S3_ENDPOINT", "BLOB_S3_PATH_STYLE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("NEGATIVE_STOCK_POLICY", NegativeStockAllow)
	v.SetDefault("EXPIRY_WARNING_DAYS", 30)
	v.SetDefault("SAMPLE_ID_MAX_RETRIES", 3)
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("BLOB_DRIVER", BlobDriverMemory)
	v.SetDefault("BLOB_S3_REGION", "us-east-1")

	// Unmarshal only sees env vars that are bound explicitly.
	for _, k := range keys {
		v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate rejects configurations the server must not start with.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	switch c.NegativeStockPolicy {
	case NegativeStockAllow, NegativeStockReject:
	default:
		return fmt.Errorf("NEGATIVE_STOCK_POLICY must be %q or %q, got %q",
			NegativeStockAllow, NegativeStockReject, c.NegativeStockPolicy)
	}
	if c.ExpiryWarningDays < 0 {
		return fmt.Errorf("EXPIRY_WARNING_DAYS must not be negative")
	}
	if c.SampleIDMaxRetries < 1 {
		return fmt.Errorf("SAMPLE_ID_MAX_RETRIES must be at least 1")
	}
	switch c.BlobDriver {
	case BlobDriverMemory:
	case BlobDriverS3:
		if c.BlobS3Bucket == "" {
			return fmt.Errorf("BLOB_S3_BUCKET is required when BLOB_DRIVER=s3")
		}
	default:
		return fmt.Errorf("BLOB_DRIVER must be %q or %q, got %q", BlobDriverMemory, BlobDriverS3, c.BlobDriver)
	}
	return nil
}
