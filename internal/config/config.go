package config

import "time"

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"mysql"`
	DatabaseURL    string `env:"DATABASE_URL"`
	RedisURL       string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	Stripe       Stripe       `envPrefix:"STRIPE_"`
	Auth         Auth         `envPrefix:"AUTH_"`
	Postmark     Postmark     `envPrefix:"POSTMARK_"`
	Sweeper      Sweeper      `envPrefix:"SWEEPER_"`
	Notification Notification `envPrefix:"NOTIFICATION_"`
}

type Stripe struct {
	SecretKey         string        `env:"SECRET_KEY"`
	WebhookSecret     string        `env:"WEBHOOK_SECRET"`
	SuccessURL        string        `env:"SUCCESS_URL" envDefault:"http://localhost:3000/billing/success"`
	CancelURL         string        `env:"CANCEL_URL" envDefault:"http://localhost:3000/billing/cancel"`
	CheckoutTTL       time.Duration `env:"CHECKOUT_TTL" envDefault:"1h"`
	MaxNetworkRetries int64         `env:"MAX_NETWORK_RETRIES" envDefault:"2"`
}

type Auth struct {
	JWTSecret string `env:"JWT_SECRET"`
}

type Postmark struct {
	ServerToken  string `env:"SERVER_TOKEN"`
	AccountToken string `env:"ACCOUNT_TOKEN"`
	SenderEmail  string `env:"SENDER_EMAIL" envDefault:"billing@example.com"`
}

type Sweeper struct {
	Schedule string `env:"SCHEDULE" envDefault:"@hourly"`
}

type Notification struct {
	Workers     int `env:"WORKERS" envDefault:"2"`
	MaxAttempts int `env:"MAX_ATTEMPTS" envDefault:"5"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}

// CheckoutExpiry is clamped to the window Stripe accepts for checkout sessions.
func (s Stripe) CheckoutExpiry() time.Duration {
	switch {
	case s.CheckoutTTL < 30*time.Minute:
		return 30 * time.Minute
	case s.CheckoutTTL > 24*time.Hour:
		return 24 * time.Hour
	}
	return s.CheckoutTTL
}
