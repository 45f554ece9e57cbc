package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/mind-engage/mindengage-cbt/internal/timeouts"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// Server configures the contract server (cmd/cbtd).
type Server struct {
	Mode      Mode   `env:"MODE" envDefault:"offline"`
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	PublicURL string `env:"PUBLIC_URL"`

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN"`

	BlobBasePath string `env:"BLOB_BASE_PATH" envDefault:"./data"`

	AuthSecret string        `env:"AUTH_HMAC_SECRET" envDefault:"supersecret-dev-key"`
	TokenTTL   time.Duration `env:"AUTH_TOKEN_TTL" envDefault:"8h"`

	// Bootstrap administrator. Logging in with AdminUser and the admin
	// password creates the admin account on demand. AdminPassHash (bcrypt)
	// takes precedence over the plain dev password.
	AdminUser     string `env:"ADMIN_USER" envDefault:"Admin"`
	AdminEmail    string `env:"ADMIN_EMAIL" envDefault:"admin@cbt.local"`
	AdminPassword string `env:"ADMIN_PASSWORD" envDefault:"Admin@01"`
	AdminPassHash string `env:"ADMIN_PASS_HASH"`

	CORSOriginsOnline  []string `env:"CORS_ORIGINS_ONLINE" envSeparator:"," envDefault:"https://cbt.mindengage.ai"`
	CORSOriginsOffline []string `env:"CORS_ORIGINS_OFFLINE" envSeparator:"," envDefault:"http://localhost:3000"`

	// Payment gateway: sandbox|paystack|midtrans.
	PaymentGateway    string `env:"PAYMENT_GATEWAY" envDefault:"sandbox"`
	PaymentCurrency   string `env:"PAYMENT_CURRENCY" envDefault:"NGN"`
	PaymentCallback   string `env:"PAYMENT_CALLBACK_URL" envDefault:"http://127.0.0.1:8765/payment/callback"`
	PaystackSecretKey string `env:"PAYSTACK_SECRET_KEY"`
	PaystackAPIURL    string `env:"PAYSTACK_API_URL" envDefault:"https://api.paystack.co"`
	MidtransServerKey string `env:"MIDTRANS_SERVER_KEY"`
	MidtransProd      bool   `env:"MIDTRANS_PRODUCTION" envDefault:"false"`

	FreeAttemptLimit int `env:"CBT_FREE_ATTEMPT_LIMIT" envDefault:"0"`
}

// Client configures the learner CLI (cmd/cbt).
type Client struct {
	APIURL         string        `env:"CBT_API_URL" envDefault:"http://localhost:8080"`
	SessionFile    string        `env:"CBT_SESSION_FILE"`
	RequestTimeout time.Duration `env:"CBT_REQUEST_TIMEOUT" envDefault:"15s"`
	VerifyAttempts uint          `env:"CBT_VERIFY_ATTEMPTS" envDefault:"5"`
	// Provider confirmation: auto|callback.
	Confirmer        string        `env:"CBT_CONFIRMER" envDefault:"callback"`
	CallbackAddr     string        `env:"CBT_CALLBACK_ADDR" envDefault:"127.0.0.1:8765"`
	ProviderTimeout  time.Duration `env:"CBT_PROVIDER_TIMEOUT" envDefault:"10m"`
	FreeAttemptLimit int           `env:"CBT_FREE_ATTEMPT_LIMIT" envDefault:"0"`
	// Currency used to display catalog prices.
	Currency string `env:"CBT_CURRENCY" envDefault:"NGN"`
}

// LoadDotEnv loads the given .env files (default ".env") into the process
// environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func ServerFromEnv() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Mode != ModeOffline && cfg.Mode != ModeOnline {
		return Server{}, fmt.Errorf("unsupported MODE %q", cfg.Mode)
	}
	return cfg, nil
}

func ClientFromEnv() (Client, error) {
	var cfg Client
	if err := env.Parse(&cfg); err != nil {
		return Client{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = timeouts.Request
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = timeouts.ProviderConfirmation
	}
	if cfg.SessionFile == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		cfg.SessionFile = dir + string(os.PathSeparator) + "mindengage-cbt" + string(os.PathSeparator) + "session.json"
	}
	return cfg, nil
}

// CORSOrigins returns the allowed origins for the configured mode.
func (s Server) CORSOrigins() []string {
	if s.Mode == ModeOnline {
		return s.CORSOriginsOnline
	}
	return s.CORSOriginsOffline
}
