package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalid is returned by Load when required settings are missing or malformed.
var ErrInvalid = errors.New("invalid configuration")

// Role selects which settings are mandatory for the loading process.
type Role int

const (
	RoleCollector Role = iota
	RoleAnalyzer
)

// Metric names used as keys in ThresholdsConfig.Ranges.
const (
	MetricSoilMoisture = "soil_moisture"
	MetricTemperature  = "temperature"
	MetricLight        = "light"
)

type Config struct {
	Sensor       SensorConfig
	Collector    CollectorConfig
	Storage      StorageConfig
	Kafka        KafkaConfig
	Redis        RedisConfig
	Thresholds   ThresholdsConfig
	Notification NotificationConfig
	Analysis     AnalysisConfig
	Logging      LoggingConfig
	Metrics      MetricsConfig
}

type SensorConfig struct {
	Driver               string // gpio or simulated
	SoilMoisturePin      string
	LightPin             string
	TemperatureI2CBus    int
	ReadTimeout          time.Duration
	SimulatedFailureRate float64
}

type CollectorConfig struct {
	Interval time.Duration
}

type StorageConfig struct {
	Database     DatabaseConfig
	CSVPath      string
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Driver   string // sqlite3 or postgres
	Path     string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DataSourceName returns the driver specific connection string.
func (d DatabaseConfig) DataSourceName() string {
	if d.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
	}
	return d.Path
}

type KafkaConfig struct {
	Brokers       []string
	TopicReadings string
	NumPartitions int
	WriteTimeout  time.Duration
}

// Enabled reports whether the reading stream mirror is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// Range is an inclusive [Low, High] optimal band for one metric.
type Range struct {
	Low  float64
	High float64
}

// Contains reports whether v lies within the band, edges included.
func (r Range) Contains(v float64) bool {
	return r.Low <= v && v <= r.High
}

type ThresholdsConfig struct {
	Ranges map[string]Range
}

type NotificationConfig struct {
	RecipientEmail string
	RecipientPhone string
	EnableSMS      bool
	Timeout        time.Duration
	SMTP           SMTPConfig
	Twilio         TwilioConfig
	MQTT           MQTTConfig
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Topic     string
}

func (m MQTTConfig) Enabled() bool {
	return m.BrokerURL != ""
}

type AnalysisConfig struct {
	Source       string // db or csv
	DataFilePath string
	DailyTime    string
	Location     *time.Location
	Lookback     time.Duration
}

type LoggingConfig struct {
	File  string
	Level string
}

type MetricsConfig struct {
	Addr string
}

// Load reads the process configuration once from the environment (and a
// .env file when present). Settings mandatory for role are validated and any
// problem is reported as ErrInvalid.
func Load(role Role) (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	v := &validator{}

	config := &Config{
		Sensor: SensorConfig{
			Driver:               getEnv("SENSOR_DRIVER", "gpio"),
			SoilMoisturePin:      getEnv("SOIL_MOISTURE_PIN", ""),
			LightPin:             getEnv("LIGHT_SENSOR_PIN", ""),
			TemperatureI2CBus:    v.integer("TEMPERATURE_I2C_BUS", 1),
			ReadTimeout:          v.duration("SENSOR_READ_TIMEOUT", 5*time.Second),
			SimulatedFailureRate: v.number("SENSOR_SIMULATED_FAILURE_RATE", 0),
		},
		Collector: CollectorConfig{
			Interval: v.duration("SAMPLING_INTERVAL", 60*time.Second),
		},
		Storage: StorageConfig{
			Database: DatabaseConfig{
				Driver:   getEnv("DB_DRIVER", "sqlite3"),
				Path:     getEnv("DATABASE_PATH", "sensor_data.db"),
				Host:     getEnv("DB_HOST", "localhost"),
				Port:     v.integer("DB_PORT", 5432),
				User:     getEnv("DB_USER", "plant_user"),
				Password: getEnv("DB_PASSWORD", "plant_pass"),
				DBName:   getEnv("DB_NAME", "plant_db"),
				SSLMode:  getEnv("DB_SSLMODE", "disable"),
			},
			CSVPath:      getEnv("CSV_FILE", "sensor_data.csv"),
			WriteTimeout: v.duration("STORAGE_WRITE_TIMEOUT", 5*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(getEnv("KAFKA_BROKERS", "")),
			TopicReadings: getEnv("KAFKA_TOPIC_READINGS", "plant.readings.raw"),
			NumPartitions: v.integer("KAFKA_NUM_PARTITIONS", 1),
			WriteTimeout:  v.duration("KAFKA_WRITE_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       v.integer("REDIS_DB", 0),
		},
		Notification: NotificationConfig{
			RecipientEmail: getEnv("RECIPIENT_EMAIL", getEnv("NOTIFICATION_EMAIL", "")),
			RecipientPhone: getEnv("RECIPIENT_PHONE_NUMBER", getEnv("SMS_ALERT_NUMBER", "")),
			EnableSMS:      v.boolean("ENABLE_SMS_ALERTS", false),
			Timeout:        v.duration("NOTIFY_TIMEOUT", 10*time.Second),
			SMTP: SMTPConfig{
				Host:     getEnv("EMAIL_HOST", "smtp.gmail.com"),
				Port:     v.integer("EMAIL_PORT", 587),
				Username: getEnv("EMAIL_HOST_USER", ""),
				Password: getEnv("EMAIL_HOST_PASSWORD", ""),
				From:     getEnv("EMAIL_FROM", getEnv("EMAIL_HOST_USER", "plant-monitor@example.com")),
			},
			Twilio: TwilioConfig{
				AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
				AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
				FromNumber: getEnv("TWILIO_PHONE_NUMBER", ""),
			},
			MQTT: MQTTConfig{
				BrokerURL: getEnv("MQTT_BROKER_URL", ""),
				ClientID:  getEnv("MQTT_CLIENT_ID", "plant-monitor"),
				Topic:     getEnv("MQTT_ALERT_TOPIC", "plant/alerts"),
			},
		},
		Analysis: AnalysisConfig{
			Source:       getEnv("ANALYSIS_SOURCE", "db"),
			DataFilePath: getEnv("SENSOR_DATA_FILE_PATH", getEnv("CSV_FILE", "sensor_data.csv")),
			DailyTime:    getEnv("ANALYSIS_DAILY_TIME", "00:05"),
			Lookback:     v.duration("ANALYSIS_LOOKBACK", 0),
		},
		Logging: LoggingConfig{
			File:  getEnv("LOG_FILE", ""),
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ""),
		},
	}

	config.validateCommon(v)
	switch role {
	case RoleCollector:
		config.validateCollector(v)
	case RoleAnalyzer:
		config.Thresholds.Ranges = loadRanges(v)
		config.validateAnalyzer(v)
	}

	if err := v.err(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validateCommon(v *validator) {
	switch c.Storage.Database.Driver {
	case "sqlite3", "postgres":
	default:
		v.addf("DB_DRIVER must be sqlite3 or postgres, got %q", c.Storage.Database.Driver)
	}
	if c.Storage.Database.Driver == "sqlite3" && c.Storage.Database.Path == "" {
		v.addf("DATABASE_PATH is required for sqlite3")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		v.addf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
}

func (c *Config) validateCollector(v *validator) {
	if c.Collector.Interval <= 0 {
		v.addf("SAMPLING_INTERVAL must be positive")
	}
	if c.Sensor.ReadTimeout <= 0 {
		v.addf("SENSOR_READ_TIMEOUT must be positive")
	}
	switch c.Sensor.Driver {
	case "gpio":
		if c.Sensor.SoilMoisturePin == "" {
			v.addf("SOIL_MOISTURE_PIN is required")
		}
		if c.Sensor.LightPin == "" {
			v.addf("LIGHT_SENSOR_PIN is required")
		}
	case "simulated":
		if r := c.Sensor.SimulatedFailureRate; r < 0 || r > 1 {
			v.addf("SENSOR_SIMULATED_FAILURE_RATE must be within [0, 1]")
		}
	default:
		v.addf("SENSOR_DRIVER must be gpio or simulated, got %q", c.Sensor.Driver)
	}
	if c.Storage.CSVPath == "" {
		v.addf("CSV_FILE is required")
	}
}

func (c *Config) validateAnalyzer(v *validator) {
	if c.Notification.RecipientEmail == "" {
		v.addf("RECIPIENT_EMAIL is required")
	}
	if c.Notification.EnableSMS {
		if c.Notification.RecipientPhone == "" {
			v.addf("RECIPIENT_PHONE_NUMBER is required when ENABLE_SMS_ALERTS is true")
		}
		tw := c.Notification.Twilio
		if tw.AccountSID == "" || tw.AuthToken == "" || tw.FromNumber == "" {
			v.addf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER are required when ENABLE_SMS_ALERTS is true")
		}
	}
	if c.Notification.Timeout <= 0 {
		v.addf("NOTIFY_TIMEOUT must be positive")
	}
	if c.Analysis.Lookback < 0 {
		v.addf("ANALYSIS_LOOKBACK must not be negative")
	}
	switch c.Analysis.Source {
	case "db":
	case "csv":
		if c.Analysis.DataFilePath == "" {
			v.addf("SENSOR_DATA_FILE_PATH is required when ANALYSIS_SOURCE is csv")
		}
	default:
		v.addf("ANALYSIS_SOURCE must be db or csv, got %q", c.Analysis.Source)
	}
	if _, _, err := ParseTimeOfDay(c.Analysis.DailyTime); err != nil {
		v.addf("ANALYSIS_DAILY_TIME: %v", err)
	}

	loc := time.Local
	if tz := getEnv("ANALYSIS_TIMEZONE", ""); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			v.addf("ANALYSIS_TIMEZONE: %v", err)
		} else {
			loc = l
		}
	}
	c.Analysis.Location = loc
}

// loadRanges reads the optimal bands. Moisture and light are mandatory;
// temperature is optional but both of its bounds must be given together.
func loadRanges(v *validator) map[string]Range {
	ranges := make(map[string]Range)

	required := []struct{ metric, prefix string }{
		{MetricSoilMoisture, "OPTIMAL_MOISTURE"},
		{MetricLight, "OPTIMAL_LIGHT"},
	}
	for _, r := range required {
		low, okLow := v.requireFloat(r.prefix + "_LOW")
		high, okHigh := v.requireFloat(r.prefix + "_HIGH")
		if okLow && okHigh {
			if low > high {
				v.addf("%s_LOW (%g) must not exceed %s_HIGH (%g)", r.prefix, low, r.prefix, high)
				continue
			}
			ranges[r.metric] = Range{Low: low, High: high}
		}
	}

	lowStr := getEnv("OPTIMAL_TEMPERATURE_LOW", "")
	highStr := getEnv("OPTIMAL_TEMPERATURE_HIGH", "")
	if lowStr != "" || highStr != "" {
		low, okLow := v.requireFloat("OPTIMAL_TEMPERATURE_LOW")
		high, okHigh := v.requireFloat("OPTIMAL_TEMPERATURE_HIGH")
		if okLow && okHigh {
			if low > high {
				v.addf("OPTIMAL_TEMPERATURE_LOW (%g) must not exceed OPTIMAL_TEMPERATURE_HIGH (%g)", low, high)
			} else {
				ranges[MetricTemperature] = Range{Low: low, High: high}
			}
		}
	}

	return ranges
}

// ParseTimeOfDay parses an "HH:MM" wall clock time.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid time format: %s (expected HH:MM)", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time out of range: %s", s)
	}
	return hour, minute, nil
}

type validator struct {
	problems []string
}

func (v *validator) addf(format string, args ...interface{}) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

// integer, number and boolean read optional settings. A value that is set
// but malformed is recorded as a problem rather than replaced by the default.
func (v *validator) integer(key string, defaultValue int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		v.addf("%s must be an integer, got %q", key, raw)
		return defaultValue
	}
	return value
}

func (v *validator) number(key string, defaultValue float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		v.addf("%s must be a finite number, got %q", key, raw)
		return defaultValue
	}
	return value
}

func (v *validator) boolean(key string, defaultValue bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		v.addf("%s must be true or false, got %q", key, raw)
		return defaultValue
	}
	return value
}

func (v *validator) requireFloat(key string) (float64, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		v.addf("%s is required", key)
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		v.addf("%s must be a number, got %q", key, raw)
		return 0, false
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		v.addf("%s must be finite, got %q", key, raw)
		return 0, false
	}
	return value, true
}

// duration reads an optional duration the same way. A bare integer is taken
// as seconds.
func (v *validator) duration(key string, defaultValue time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		v.addf("%s must be a duration, got %q", key, raw)
		return defaultValue
	}
	return value
}

func (v *validator) err() error {
	if len(v.problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(v.problems, "; "))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
