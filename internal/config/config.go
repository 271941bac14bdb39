package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (dispatch dedupe + owner throttle); optional
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Scheduler loop tuning
	TickInterval  time.Duration // cadence of due-reminder batches
	BatchSize     int           // max reminders claimed per batch
	Concurrency   int           // parallel dispatches within a batch
	GraceWindow   time.Duration // how stale a before-due occurrence may be and still fire
	InFlightGrace time.Duration // claim age before the recovery sweep re-queues
	SweepInterval time.Duration // cadence of recovery sweeps after startup

	// Dispatch
	AttemptTimeout  time.Duration // per-delivery-attempt deadline
	OwnerRateLimit  int           // notifications per owner per window; 0 disables
	OwnerRateWindow time.Duration

	// AWS transports
	AWSRegion    string
	SESFromEmail string
	SNSRegion    string

	// Outcome event feed; empty disables
	OutcomesQueueURL string

	// Push endpoint delivery
	PushTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "chime",
		DBPassword: "",
		DBName:     "chime",
		DBSSLMode:  "disable",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		TickInterval:  time.Minute,
		BatchSize:     50,
		Concurrency:   8,
		GraceWindow:   time.Minute,
		InFlightGrace: 5 * time.Minute,
		SweepInterval: 10 * time.Minute,

		AttemptTimeout:  10 * time.Second,
		OwnerRateLimit:  30,
		OwnerRateWindow: time.Hour,

		AWSRegion:    "us-east-1",
		SESFromEmail: "reminders@chime.local",

		PushTimeout: 15 * time.Second,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// Scheduler tuning
	if v := os.Getenv("SCHED_TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHED_TICK_INTERVAL: %w", err)
		}
		cfg.TickInterval = d
	}

	if v := os.Getenv("SCHED_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHED_BATCH_SIZE: %w", err)
		}
		cfg.BatchSize = n
	}

	if v := os.Getenv("SCHED_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHED_CONCURRENCY: %w", err)
		}
		cfg.Concurrency = n
	}

	if v := os.Getenv("SCHED_GRACE_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHED_GRACE_WINDOW: %w", err)
		}
		cfg.GraceWindow = d
	}

	if v := os.Getenv("SCHED_INFLIGHT_GRACE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHED_INFLIGHT_GRACE: %w", err)
		}
		cfg.InFlightGrace = d
	}

	if v := os.Getenv("SCHED_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHED_SWEEP_INTERVAL: %w", err)
		}
		cfg.SweepInterval = d
	}

	// Dispatch tuning
	if v := os.Getenv("DISPATCH_ATTEMPT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_ATTEMPT_TIMEOUT: %w", err)
		}
		cfg.AttemptTimeout = d
	}

	if v := os.Getenv("OWNER_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid OWNER_RATE_LIMIT: %w", err)
		}
		cfg.OwnerRateLimit = n
	}

	if v := os.Getenv("OWNER_RATE_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid OWNER_RATE_WINDOW: %w", err)
		}
		cfg.OwnerRateWindow = d
	}

	// AWS config
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("OUTCOMES_QUEUE_URL"); url != "" {
		cfg.OutcomesQueueURL = url
	}

	if v := os.Getenv("PUSH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PUSH_TIMEOUT: %w", err)
		}
		cfg.PushTimeout = d
	}

	return cfg, nil
}
