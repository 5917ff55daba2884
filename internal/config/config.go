package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Log       Log
	Store     Store
	Redis     Redis
	Dynamo    Dynamo
	Kafka     Kafka
	Dialer    Dialer
	CRM       CRM
	Policy    Policy
	Telemetry Telemetry
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Pretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

type Store struct {
	// Backend is "redis" or "dynamodb".
	Backend string `env:"STORE_BACKEND" envDefault:"redis"`
}

type Redis struct {
	Addr          string        `env:"REDIS_ADDRESS" envDefault:"localhost:6379"`
	Password      string        `env:"REDIS_PASSWORD"`
	DB            int           `env:"REDIS_DB" envDefault:"0"`
	TaskPrefix    string        `env:"REDIS_TASK_PREFIX" envDefault:"calltask:"`
	StreamKey     string        `env:"REDIS_STREAM_KEY" envDefault:"leadcall:due"`
	Group         string        `env:"REDIS_GROUP" envDefault:"leadcall-workers"`
	ScheduledZSet string        `env:"REDIS_SCHEDULED_ZSET" envDefault:"leadcall:scheduled"`
	ClaimMinIdle  time.Duration `env:"REDIS_CLAIM_MIN_IDLE" envDefault:"1m"`
}

type Dynamo struct {
	Region   string `env:"AWS_REGION" envDefault:"us-east-2"`
	Table    string `env:"DYNAMO_TABLE" envDefault:"call_tasks"`
	Endpoint string `env:"DYNAMO_ENDPOINT"`
}

type Kafka struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"KAFKA_TOPIC" envDefault:"leadcall-events"`
}

type Dialer struct {
	BaseURL       string        `env:"DIALER_BASE_URL" envDefault:"https://api.vapi.ai"`
	APIKey        string        `env:"DIALER_API_KEY"`
	AssistantID   string        `env:"DIALER_ASSISTANT_ID"`
	PhoneNumberID string        `env:"DIALER_PHONE_NUMBER_ID"`
	RatePerSecond float64       `env:"DIALER_RATE_PER_SECOND" envDefault:"5"`
	Timeout       time.Duration `env:"DIALER_TIMEOUT" envDefault:"10s"`
}

type CRM struct {
	BaseURL         string        `env:"CRM_BASE_URL" envDefault:"https://services.leadconnectorhq.com"`
	APIKey          string        `env:"CRM_API_KEY"`
	APIVersion      string        `env:"CRM_API_VERSION" envDefault:"2021-07-28"`
	Timeout         time.Duration `env:"CRM_TIMEOUT" envDefault:"10s"`
	ReminderMessage string        `env:"CRM_REMINDER_SMS" envDefault:"Sorry we missed you! We tried to call about your enquiry and will try again {{.next_call}}. Reply here to pick a better time."`
}

type Policy struct {
	DefaultTimezone  string        `env:"DEFAULT_TIMEZONE" envDefault:"America/New_York"`
	MaxAttempts      int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	OpenHour         int           `env:"WINDOW_OPEN_HOUR" envDefault:"9"`
	CloseHour        int           `env:"WINDOW_CLOSE_HOUR" envDefault:"19"`
	SnapHour         int           `env:"WINDOW_SNAP_HOUR" envDefault:"10"`
	BusyDelay        time.Duration `env:"RETRY_BUSY_DELAY" envDefault:"25m"`
	NoAnswerDelay    time.Duration `env:"RETRY_NO_ANSWER_DELAY" envDefault:"120m"`
	VoicemailDelay   time.Duration `env:"RETRY_VOICEMAIL_DELAY" envDefault:"240m"`
	DefaultDelay     time.Duration `env:"RETRY_DEFAULT_DELAY" envDefault:"120m"`
	CallTimeout      time.Duration `env:"COLLABORATOR_TIMEOUT" envDefault:"10s"`
	CallLease        time.Duration `env:"CALL_LEASE" envDefault:"30m"`
	ConflictRetries  int           `env:"CONFLICT_RETRIES" envDefault:"5"`
	StoreRetries     int           `env:"STORE_WRITE_RETRIES" envDefault:"3"`
	StoreBaseBackoff time.Duration `env:"STORE_BASE_BACKOFF" envDefault:"50ms"`
	StoreMaxBackoff  time.Duration `env:"STORE_MAX_BACKOFF" envDefault:"1s"`
}

type Telemetry struct {
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"leadcall"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Parse reads .env (if present) and the process environment.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if c.Store.Backend != "redis" && c.Store.Backend != "dynamodb" {
		return nil, fmt.Errorf("parse config: unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if c.Policy.MaxAttempts <= 0 {
		return nil, fmt.Errorf("parse config: MAX_ATTEMPTS must be positive, got %d", c.Policy.MaxAttempts)
	}
	return &c, nil
}

func Load() *Config {
	c, err := Parse()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	return c
}
