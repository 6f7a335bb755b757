// Package config loads the portal configuration from the environment and an optional .env file.
package config

import (
	"os"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	connect "github.com/goliatone/go-connect"
)

const devSigningKey = "dev-only-signing-key-change-me"

// Config holds the portal configuration.
type Config struct {
	Addr          string `mapstructure:"APP_ADDR"`
	Env           string `mapstructure:"APP_ENV"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	SigningKey    string `mapstructure:"SIGNING_KEY"`
	Issuer        string `mapstructure:"JWT_ISSUER"`
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`
	SecureCookies bool   `mapstructure:"SECURE_COOKIES"`
	ViewsDir      string `mapstructure:"VIEWS_DIR"`

	UserCookieTTL time.Duration `mapstructure:"USER_COOKIE_TTL"`
	FormCookieTTL time.Duration `mapstructure:"FORM_COOKIE_TTL"`
	CustomerQRTTL time.Duration `mapstructure:"CUSTOMER_QR_TTL"`
	StaffQRTTL    time.Duration `mapstructure:"STAFF_QR_TTL"`

	BackendURL     string        `mapstructure:"BACKEND_URL"`
	BackendTimeout time.Duration `mapstructure:"BACKEND_TIMEOUT"`
	PostalURL      string        `mapstructure:"POSTAL_URL"`
	GeocodeURL     string        `mapstructure:"GEOCODE_URL"`
	ProxyHeader    string        `mapstructure:"PROXY_HEADER"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	ApprovalsSchedule   string        `mapstructure:"APPROVALS_REFRESH"`
	ApprovalsStaleAfter time.Duration `mapstructure:"APPROVALS_STALE_AFTER"`
	ApprovalsRetryDelay time.Duration `mapstructure:"APPROVALS_RETRY_DELAY"`
}

var _ connect.Config = (*Config)(nil)

// Load reads .env (if present), then builds and validates Config from the environment.
// Env vars override .env.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path
func LoadFile(dotEnvPath string) (*Config, error) {
	if dotEnvPath != "" {
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "config: unable to read dotenv file").
					WithMetadata(map[string]any{"path": dotEnvPath})
			}
		}
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_ADDR", ":3000")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SIGNING_KEY", "")
	v.SetDefault("JWT_ISSUER", "go-connect")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:3000")
	v.SetDefault("SECURE_COOKIES", true)
	v.SetDefault("VIEWS_DIR", "")
	v.SetDefault("USER_COOKIE_TTL", connect.DefaultUserTTL)
	v.SetDefault("FORM_COOKIE_TTL", connect.DefaultFormTTL)
	v.SetDefault("CUSTOMER_QR_TTL", connect.DefaultCustomerQRTTL)
	v.SetDefault("STAFF_QR_TTL", connect.DefaultStaffQRTTL)
	v.SetDefault("BACKEND_URL", "https://cust.spacetextiles.net")
	v.SetDefault("BACKEND_TIMEOUT", 15*time.Second)
	v.SetDefault("POSTAL_URL", "https://api.postalpincode.in")
	v.SetDefault("GEOCODE_URL", "https://nominatim.openstreetmap.org/reverse")
	v.SetDefault("PROXY_HEADER", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("APPROVALS_REFRESH", connect.DefaultRefreshSchedule)
	v.SetDefault("APPROVALS_STALE_AFTER", connect.DefaultStaleAfter)
	v.SetDefault("APPROVALS_RETRY_DELAY", connect.DefaultRetryDelay)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "config: unable to decode environment")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return goerrors.New("config: APP_ADDR must be set", goerrors.CategoryValidation)
	}

	if c.SigningKey == "" {
		if c.IsProduction() {
			return goerrors.New("config: SIGNING_KEY must be set when APP_ENV=production", goerrors.CategoryValidation)
		}
		c.SigningKey = devSigningKey
	}

	if c.IsProduction() && !c.SecureCookies {
		return goerrors.New("config: SECURE_COOKIES must not be false when APP_ENV=production", goerrors.CategoryValidation)
	}

	if c.FormCookieTTL <= 0 || c.UserCookieTTL <= 0 {
		return goerrors.New("config: cookie lifetimes must be positive", goerrors.CategoryValidation)
	}

	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")
	return nil
}

// IsProduction reports whether APP_ENV names a production deployment
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func (c *Config) GetSigningKey() string {
	return c.SigningKey
}

func (c *Config) GetIssuer() string {
	return c.Issuer
}

func (c *Config) GetPublicBaseURL() string {
	return c.PublicBaseURL
}

func (c *Config) GetSecureCookies() bool {
	return c.SecureCookies
}

func (c *Config) GetUserCookieTTL() time.Duration {
	return c.UserCookieTTL
}

func (c *Config) GetFormCookieTTL() time.Duration {
	return c.FormCookieTTL
}
