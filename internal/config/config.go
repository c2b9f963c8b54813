package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds every effective option of the notify service. Values are
// read from the environment; defaults match the development deployment.
type Config struct {
	Port int `env:"PORT" env-default:"7461"`

	QueueHost        string `env:"QUEUE_HOST" env-default:"127.0.0.1"`
	QueuePort        int    `env:"QUEUE_PORT" env-default:"5672"`
	QueueUsername    string `env:"QUEUE_USERNAME" env-default:"xopay_rabbit"`
	QueuePassword    string `env:"QUEUE_PASSWORD" env-default:"guest"`
	QueueVirtualHost string `env:"QUEUE_VIRTUAL_HOST" env-default:"/xopay"`

	QueueTransaction string `env:"QUEUE_TRANS_STATUS" env-default:"transactions_status"`
	QueueEmail       string `env:"QUEUE_EMAIL" env-default:"notify_email"`
	QueueSMS         string `env:"QUEUE_SMS" env-default:"notify_sms"`
	QueueRequest     string `env:"QUEUE_REQUEST" env-default:"notify_request"`

	UpdateHours []int  `env:"CURRENCY_UPDATE_HOURS" env-separator:"," env-default:"0,6,12,18"`
	Timezone    string `env:"CURRENCY_TIMEZONE" env-default:"Europe/Riga"`

	MailServer        string `env:"MAIL_SERVER" env-default:"127.0.0.1:587"`
	MailUsername      string `env:"MAIL_USERNAME"`
	MailPassword      string `env:"MAIL_PASSWORD"`
	MailDefaultSender string `env:"MAIL_DEFAULT_SENDER" env-default:"notify@xopay.com"`

	AdminBaseURL  string `env:"ADMIN_BASE_URL" env-default:"http://127.0.0.1:7128/api/admin/dev"`
	ClientBaseURL string `env:"CLIENT_BASE_URL" env-default:"http://127.0.0.1:7254/api/client/dev"`

	AuthKey           string        `env:"AUTH_KEY" env-default:"pSi3Q8sLtvpxhtrn"`
	AuthAlgorithm     string        `env:"AUTH_ALGORITHM" env-default:"HS512"`
	AuthTokenLifetime time.Duration `env:"AUTH_TOKEN_LIFE_TIME" env-default:"30m"`
	AuthSystemUserID  string        `env:"AUTH_SYSTEM_USER_ID" env-default:"notify"`

	LogLevel      string `env:"LOG_LEVEL" env-default:"info"`
	LogFile       string `env:"LOG_FILE"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" env-default:"10"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" env-default:"5"`

	DBHost     string `env:"PG_DB_HOST" env-default:"127.0.0.1"`
	DBPort     int    `env:"PG_DB_PORT" env-default:"5432"`
	DBUser     string `env:"PG_DB_USER" env-default:"xopay"`
	DBPassword string `env:"PG_DB_PASSWORD" env-default:"xopay"`
	DBName     string `env:"PG_DB_NAME" env-default:"xopay_notify"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	for _, h := range cfg.UpdateHours {
		if h < 0 || h > 23 {
			return nil, fmt.Errorf("config error: update hour %d out of range", h)
		}
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("config error: unknown timezone %q: %w", cfg.Timezone, err)
	}
	return &cfg, nil
}

// AMQPURL renders the broker connection URL. Credentials go through the
// userinfo encoder and the virtual host is path-escaped, so values like
// "/xopay" or passwords with spaces survive the URI form.
func (c *Config) AMQPURL() string {
	return fmt.Sprintf("amqp://%s@%s:%d/%s",
		url.UserPassword(c.QueueUsername, c.QueuePassword),
		c.QueueHost, c.QueuePort, url.PathEscape(c.QueueVirtualHost))
}

// PostgresDSN renders the rule-store connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s?sslmode=disable",
		url.UserPassword(c.DBUser, c.DBPassword), c.DBHost, c.DBPort, c.DBName)
}
