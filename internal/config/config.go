// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env-required:"true"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	RabbitMQ                `yaml:"rabbitmq"`
	GenerationService       `yaml:"generation_service"`
	Executor                `yaml:"executor"`
	Stripe                  `yaml:"stripe"`
	Billing                 `yaml:"billing"`
	Reconciler              `yaml:"reconciler"`
	PhotoStorage            `yaml:"photo_storage"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
	RateLimit   float64       `yaml:"rate_limit" env-default:"5"`
	RateBurst   int           `yaml:"rate_burst" env-default:"10"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
	PlanTTL      time.Duration `yaml:"plan_ttl" env-default:"5m"`
}

// JWTToken структура для работы с jwt-токеном
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// RabbitMQ параметры подключения к брокеру
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"10"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"3s"`
}

// GenerationService настройки клиента удаленного сервиса генерации
type GenerationService struct {
	BaseURL       string        `yaml:"base_url" env-default:"http://localhost:8001"`
	Timeout       time.Duration `yaml:"timeout" env-default:"120s"`
	HealthTimeout time.Duration `yaml:"health_timeout" env-default:"5s"`
}

// Executor настройки фонового исполнителя задач
type Executor struct {
	PollInterval        time.Duration `yaml:"poll_interval" env-default:"30s"`
	MaxPollAttempts     int           `yaml:"max_poll_attempts" env-default:"40"`
	MaxJobRetries       int           `yaml:"max_retries" env-default:"2"`
	ItineraryRetryDelay time.Duration `yaml:"itinerary_retry_delay" env-default:"30s"`
	ChatRetryDelay      time.Duration `yaml:"chat_retry_delay" env-default:"30s"`
	VideoRetryDelay     time.Duration `yaml:"video_retry_delay" env-default:"60s"`
	Concurrency         int           `yaml:"concurrency" env-default:"10"`
	MetricsAddress      string        `yaml:"metrics_address" env-default:":9091"`
}

// RetryDelays задержки повторов по типам задач.
func (e Executor) RetryDelays() map[string]time.Duration {
	return map[string]time.Duration{
		"itinerary": e.ItineraryRetryDelay,
		"chat":      e.ChatRetryDelay,
		"video":     e.VideoRetryDelay,
	}
}

// Stripe ключи и идентификаторы цен платежного провайдера
type Stripe struct {
	SecretKey      string `yaml:"secret_key"`
	WebhookSecret  string `yaml:"webhook_secret"`
	PremiumPriceID string `yaml:"premium_price_id"`
	ProPriceID     string `yaml:"pro_price_id"`
	SuccessURL     string `yaml:"success_url" env-default:"http://localhost:3000/payments/success"`
	CancelURL      string `yaml:"cancel_url" env-default:"http://localhost:3000/payments/cancel"`
}

// Billing цена разовой генерации видео
type Billing struct {
	VideoPrice string `yaml:"video_price" env-default:"5.99"`
	Currency   string `yaml:"currency" env-default:"EUR"`
}

// Reconciler расписания фоновых сверок
type Reconciler struct {
	RedispatchSchedule string        `yaml:"redispatch_schedule" env-default:"@every 5m"`
	BackfillSchedule   string        `yaml:"backfill_schedule" env-default:"@every 15m"`
	StaleAfter         time.Duration `yaml:"stale_after" env-default:"2m"`
	StuckAfter         time.Duration `yaml:"stuck_after" env-default:"10m"`
	MatchWindow        time.Duration `yaml:"match_window" env-default:"10m"`
	BatchSize          int           `yaml:"batch_size" env-default:"100"`
}

// PhotoStorage настройки архива пользовательских фото в S3.
// Пустой Bucket отключает архивирование.
type PhotoStorage struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region" env-default:"eu-central-1"`
	Endpoint string `yaml:"endpoint"`
}

// MustLoad функция для загрузки конфига по пути из CONFIG_PATH
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Load читает конфиг из файла без завершения процесса.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// validate проверяет согласованность сверки зависших задач с опросом видео:
// строка задачи обновляется не реже раза за тик опроса, и тик не должен
// выглядеть зависанием.
func (c *Config) validate() error {
	tick := c.PollInterval + c.GenerationService.Timeout
	if c.StuckAfter <= tick {
		return fmt.Errorf("reconciler.stuck_after %s must exceed executor.poll_interval + generation_service.timeout (%s)",
			c.StuckAfter, tick)
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"RabbitMQ:\n"+
			"  MaxRetries: %d\n"+
			"GenerationService:\n"+
			"  BaseURL: %s\n"+
			"  Timeout: %s\n"+
			"Executor:\n"+
			"  PollInterval: %s\n"+
			"  MaxPollAttempts: %d\n"+
			"  MaxRetries: %d\n",
		c.Env,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.AddressRedis,
		c.DB,
		c.RabbitMQMaxRetries,
		c.BaseURL,
		c.GenerationService.Timeout,
		c.PollInterval,
		c.MaxPollAttempts,
		c.MaxJobRetries,
	)
}
