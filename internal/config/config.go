package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Email     EmailConfig
	Throttle  ThrottleConfig
	Risk      RiskConfig
	Monitor   MonitorConfig
	Emergency EmergencyConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type EmailConfig struct {
	AWSRegion    string
	FromAddress  string
	AdminAddress string
}

// ThrottleConfig holds the lockout state machine policy. Defaults match
// the shipped policy: 15-minute failure window, captcha at 3 failures,
// lockout at 10 for 30 minutes, exponential delay 1s doubling to a 16s cap.
type ThrottleConfig struct {
	FailureWindow    time.Duration
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	CaptchaThreshold int
	LockoutThreshold int
	LockoutDuration  time.Duration
	RetentionWindow  time.Duration
}

// RiskConfig holds anomaly scoring policy. The weights are operational
// tuning knobs, not security guarantees.
type RiskConfig struct {
	HistoryLimit       int
	HistoryWindow      time.Duration
	TravelWindow       time.Duration
	AnomalyThreshold   float64
	WeightNewCountry   float64
	WeightNewLocation  float64
	WeightNewDevice    float64
	WeightTravel       float64
	WeightSuspiciousUA float64
	TOTPEncryptionKey  []byte
}

// MonitorConfig holds aggregate detection policy.
type MonitorConfig struct {
	CheckInterval         time.Duration
	SpikeWindow           time.Duration
	SpikeBaselineWindow   time.Duration
	SpikeIncreasePercent  float64
	SpikeCriticalPercent  float64
	VelocityWindow        time.Duration
	VelocityPerMinute     int
	GeoWindow             time.Duration
	GeoBaselineWindow     time.Duration
	GeoNovelCountries     int
	SustainedWindow       time.Duration
	SustainedFailureRate  float64
	SustainedFailureCount int
	SuppressionWindow     time.Duration
}

type EmergencyConfig struct {
	BatchSize  int
	CodeExpiry time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "rampart"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Env:      env,
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Email: EmailConfig{
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			FromAddress:  getEnv("EMAIL_FROM_ADDRESS", "security@example.com"),
			AdminAddress: getEnv("EMAIL_ADMIN_ADDRESS", ""),
		},
		Throttle: ThrottleConfig{
			FailureWindow:    getEnvAsDuration("THROTTLE_FAILURE_WINDOW", 15*time.Minute),
			BaseDelay:        getEnvAsDuration("THROTTLE_BASE_DELAY", 1*time.Second),
			MaxDelay:         getEnvAsDuration("THROTTLE_MAX_DELAY", 16*time.Second),
			CaptchaThreshold: getEnvAsInt("THROTTLE_CAPTCHA_THRESHOLD", 3),
			LockoutThreshold: getEnvAsInt("THROTTLE_LOCKOUT_THRESHOLD", 10),
			LockoutDuration:  getEnvAsDuration("THROTTLE_LOCKOUT_DURATION", 30*time.Minute),
			RetentionWindow:  getEnvAsDuration("ATTEMPT_RETENTION_WINDOW", 90*24*time.Hour),
		},
		Risk: RiskConfig{
			HistoryLimit:       getEnvAsInt("RISK_HISTORY_LIMIT", 20),
			HistoryWindow:      getEnvAsDuration("RISK_HISTORY_WINDOW", 90*24*time.Hour),
			TravelWindow:       getEnvAsDuration("RISK_TRAVEL_WINDOW", 2*time.Hour),
			AnomalyThreshold:   getEnvAsFloat("RISK_ANOMALY_THRESHOLD", 0.3),
			WeightNewCountry:   getEnvAsFloat("RISK_WEIGHT_NEW_COUNTRY", 0.4),
			WeightNewLocation:  getEnvAsFloat("RISK_WEIGHT_NEW_LOCATION", 0.2),
			WeightNewDevice:    getEnvAsFloat("RISK_WEIGHT_NEW_DEVICE", 0.3),
			WeightTravel:       getEnvAsFloat("RISK_WEIGHT_TRAVEL", 0.5),
			WeightSuspiciousUA: getEnvAsFloat("RISK_WEIGHT_SUSPICIOUS_UA", 0.3),
		},
		Monitor: MonitorConfig{
			CheckInterval:         getEnvAsDuration("MONITOR_CHECK_INTERVAL", 5*time.Minute),
			SpikeWindow:           getEnvAsDuration("MONITOR_SPIKE_WINDOW", 1*time.Hour),
			SpikeBaselineWindow:   getEnvAsDuration("MONITOR_SPIKE_BASELINE_WINDOW", 24*time.Hour),
			SpikeIncreasePercent:  getEnvAsFloat("MONITOR_SPIKE_INCREASE_PERCENT", 50),
			SpikeCriticalPercent:  getEnvAsFloat("MONITOR_SPIKE_CRITICAL_PERCENT", 100),
			VelocityWindow:        getEnvAsDuration("MONITOR_VELOCITY_WINDOW", 5*time.Minute),
			VelocityPerMinute:     getEnvAsInt("MONITOR_VELOCITY_PER_MINUTE", 10),
			GeoWindow:             getEnvAsDuration("MONITOR_GEO_WINDOW", 1*time.Hour),
			GeoBaselineWindow:     getEnvAsDuration("MONITOR_GEO_BASELINE_WINDOW", 7*24*time.Hour),
			GeoNovelCountries:     getEnvAsInt("MONITOR_GEO_NOVEL_COUNTRIES", 5),
			SustainedWindow:       getEnvAsDuration("MONITOR_SUSTAINED_WINDOW", 15*time.Minute),
			SustainedFailureRate:  getEnvAsFloat("MONITOR_SUSTAINED_FAILURE_RATE", 0.3),
			SustainedFailureCount: getEnvAsInt("MONITOR_SUSTAINED_FAILURE_COUNT", 20),
			SuppressionWindow:     getEnvAsDuration("MONITOR_SUPPRESSION_WINDOW", 1*time.Hour),
		},
		Emergency: EmergencyConfig{
			BatchSize:  getEnvAsInt("EMERGENCY_BATCH_SIZE", 5),
			CodeExpiry: getEnvAsDuration("EMERGENCY_CODE_EXPIRY", 48*time.Hour),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// TOTP secrets are AES-256-GCM encrypted at rest; key is hex-encoded
	keyHex := getEnv("TOTP_ENCRYPTION_KEY", "")
	if keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be hex-encoded: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
		}
		cfg.Risk.TOTPEncryptionKey = key
	} else if env == "production" {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY is required in production")
	}

	return cfg, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
