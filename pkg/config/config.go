package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	MQTT       MQTTConfig
	Ingest     IngestConfig
	Analytics  AnalyticsConfig
	Violations ViolationConfig
	Rollup     RollupConfig
	Retention  RetentionConfig
	Zones      ZonesConfig
	Scheduler  SchedulerConfig
	SMTP       SMTPConfig
	Log        LogConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	TopicPositions string
	TopicEvents    string
	GroupID        string
	NumPartitions  int
}

type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// IngestConfig controls the sharded batch writer in front of the ledger.
type IngestConfig struct {
	Shards               int
	BatchSize            int
	FlushInterval        time.Duration
	RequireRegisteredAGV bool
	RegistryRefresh      time.Duration
	MaxSampleAge         time.Duration // 0 disables
	MaxSpeed             float64       // m/s, 0 disables
	PresenceTimeout      time.Duration
	PresenceSweep        time.Duration
}

type AnalyticsConfig struct {
	SamplingRateHz     float64
	IdleSpeedThreshold float64
	StatusLookback     time.Duration
	AnomalyAccel       float64
	AnomalyQuality     float64
	MinStop            time.Duration
}

type ViolationConfig struct {
	CheckInterval     time.Duration
	CheckWindow       time.Duration
	Cooldown          time.Duration
	OvercrowdWindow   time.Duration
	OvercrowdCooldown time.Duration
	BatteryLowPercent float64
	CollisionDistance float64 // meters, 0 disables
	CollisionWindow   time.Duration
	CollisionHorizon  time.Duration
	CollisionCritical time.Duration
}

type RollupConfig struct {
	HourlyDelay time.Duration
}

type RetentionConfig struct {
	Days            int
	BatchSize       int
	DailyTime       string
	PartitionsAhead int
}

// SchedulerConfig controls job leases shared by scheduler replicas.
type SchedulerConfig struct {
	InstanceID string
	LeaseTTL   time.Duration
}

type ZonesConfig struct {
	File            string
	RefreshInterval time.Duration
	GridCellSize    float64
}

// SMTPConfig configures alert e-mail. An empty Username logs alerts instead
// of sending them.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	To          []string
	MinSeverity string
	GroupID     string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "agv"),
			Password: getEnv("DB_PASSWORD", "agvpass"),
			DBName:   getEnv("DB_NAME", "agv_rtls"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 25),
			MaxIdle:  getEnvAsInt("DB_MAX_IDLE", 5),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Enabled:        getEnvAsBool("KAFKA_ENABLED", true),
			Brokers:        strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicPositions: getEnv("KAFKA_TOPIC_POSITIONS", "agv.positions.raw"),
			TopicEvents:    getEnv("KAFKA_TOPIC_EVENTS", "agv.events"),
			GroupID:        getEnv("KAFKA_GROUP_ID", "rtls-ingest"),
			NumPartitions:  getEnvAsInt("KAFKA_NUM_PARTITIONS", 10),
		},
		MQTT: MQTTConfig{
			Enabled:  getEnvAsBool("MQTT_ENABLED", true),
			Broker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
			ClientID: getEnv("MQTT_CLIENT_ID", "agv-rtls-ingest"),
			Username: getEnv("MQTT_USERNAME", ""),
			Password: getEnv("MQTT_PASSWORD", ""),
			Topic:    getEnv("MQTT_TOPIC", "agv/+/position"),
			QoS:      byte(getEnvAsInt("MQTT_QOS", 1)),
		},
		Ingest: IngestConfig{
			Shards:               getEnvAsInt("INGEST_SHARDS", 8),
			BatchSize:            getEnvAsInt("INGEST_BATCH_SIZE", 500),
			FlushInterval:        getEnvAsDuration("INGEST_FLUSH_INTERVAL", time.Second),
			RequireRegisteredAGV: getEnvAsBool("INGEST_REQUIRE_REGISTERED", false),
			RegistryRefresh:      getEnvAsDuration("INGEST_REGISTRY_REFRESH", time.Minute),
			MaxSampleAge:         getEnvAsDuration("INGEST_MAX_SAMPLE_AGE", time.Hour),
			MaxSpeed:             getEnvAsFloat("INGEST_MAX_SPEED_MPS", 10),
			PresenceTimeout:      getEnvAsDuration("PRESENCE_TIMEOUT", time.Minute),
			PresenceSweep:        getEnvAsDuration("PRESENCE_SWEEP_INTERVAL", 15*time.Second),
		},
		Analytics: AnalyticsConfig{
			SamplingRateHz:     getEnvAsFloat("ANALYTICS_SAMPLING_RATE_HZ", 3),
			IdleSpeedThreshold: getEnvAsFloat("ANALYTICS_IDLE_SPEED_MPS", 0.1),
			StatusLookback:     getEnvAsDuration("ANALYTICS_STATUS_LOOKBACK", time.Minute),
			AnomalyAccel:       getEnvAsFloat("ANALYTICS_ANOMALY_ACCEL_MPS2", 3),
			AnomalyQuality:     getEnvAsFloat("ANALYTICS_ANOMALY_QUALITY", 0.3),
			MinStop:            getEnvAsDuration("ANALYTICS_MIN_STOP", 30*time.Second),
		},
		Violations: ViolationConfig{
			CheckInterval:     getEnvAsDuration("VIOLATION_CHECK_INTERVAL", time.Minute),
			CheckWindow:       getEnvAsDuration("VIOLATION_CHECK_WINDOW", time.Minute),
			Cooldown:          getEnvAsDuration("VIOLATION_COOLDOWN", 5*time.Minute),
			OvercrowdWindow:   getEnvAsDuration("VIOLATION_OVERCROWD_WINDOW", 10*time.Second),
			OvercrowdCooldown: getEnvAsDuration("VIOLATION_OVERCROWD_COOLDOWN", 0),
			BatteryLowPercent: getEnvAsFloat("VIOLATION_BATTERY_LOW_PERCENT", 20),
			CollisionDistance: getEnvAsFloat("VIOLATION_COLLISION_DISTANCE_M", 2),
			CollisionWindow:   getEnvAsDuration("VIOLATION_COLLISION_WINDOW", 5*time.Second),
			CollisionHorizon:  getEnvAsDuration("VIOLATION_COLLISION_HORIZON", 5*time.Second),
			CollisionCritical: getEnvAsDuration("VIOLATION_COLLISION_CRITICAL", 2*time.Second),
		},
		Rollup: RollupConfig{
			HourlyDelay: getEnvAsDuration("ROLLUP_HOURLY_DELAY", 5*time.Minute),
		},
		Retention: RetentionConfig{
			Days:            getEnvAsInt("RETENTION_DAYS", 90),
			BatchSize:       getEnvAsInt("RETENTION_BATCH_SIZE", 5000),
			DailyTime:       getEnv("RETENTION_DAILY_TIME", "00:30"),
			PartitionsAhead: getEnvAsInt("RETENTION_PARTITIONS_AHEAD", 7),
		},
		Zones: ZonesConfig{
			File:            getEnv("ZONES_FILE", ""),
			RefreshInterval: getEnvAsDuration("ZONES_REFRESH_INTERVAL", 5*time.Minute),
			GridCellSize:    getEnvAsFloat("ZONES_GRID_CELL_SIZE", 0),
		},
		Scheduler: SchedulerConfig{
			InstanceID: getEnv("SCHEDULER_INSTANCE_ID", hostname()),
			LeaseTTL:   getEnvAsDuration("SCHEDULER_LEASE_TTL", 10*time.Minute),
		},
		SMTP: SMTPConfig{
			Host:        getEnv("SMTP_HOST", "localhost"),
			Port:        getEnvAsInt("SMTP_PORT", 587),
			Username:    getEnv("SMTP_USERNAME", ""),
			Password:    getEnv("SMTP_PASSWORD", ""),
			From:        getEnv("SMTP_FROM", "rtls@example.com"),
			To:          strings.Split(getEnv("SMTP_TO", "fleet-ops@example.com"), ","),
			MinSeverity: getEnv("NOTIFY_MIN_SEVERITY", "ERROR"),
			GroupID:     getEnv("NOTIFY_GROUP_ID", "rtls-notifier"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects settings that would silently skew every derived metric.
func (c *Config) Validate() error {
	var errs []error
	if c.Analytics.SamplingRateHz <= 0 {
		errs = append(errs, fmt.Errorf("ANALYTICS_SAMPLING_RATE_HZ must be positive, got %v", c.Analytics.SamplingRateHz))
	}
	if c.Analytics.IdleSpeedThreshold < 0 {
		errs = append(errs, fmt.Errorf("ANALYTICS_IDLE_SPEED_MPS must not be negative, got %v", c.Analytics.IdleSpeedThreshold))
	}
	if c.Ingest.Shards <= 0 {
		errs = append(errs, fmt.Errorf("INGEST_SHARDS must be positive, got %d", c.Ingest.Shards))
	}
	if c.Ingest.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("INGEST_BATCH_SIZE must be positive, got %d", c.Ingest.BatchSize))
	}
	if c.Retention.Days <= 0 {
		errs = append(errs, fmt.Errorf("RETENTION_DAYS must be positive, got %d", c.Retention.Days))
	}
	if c.Retention.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("RETENTION_BATCH_SIZE must be positive, got %d", c.Retention.BatchSize))
	}
	if c.Violations.Cooldown < 0 || c.Violations.OvercrowdCooldown < 0 {
		errs = append(errs, errors.New("violation cooldowns must not be negative"))
	}
	if c.Violations.CollisionDistance < 0 {
		errs = append(errs, fmt.Errorf("VIOLATION_COLLISION_DISTANCE_M must not be negative, got %v", c.Violations.CollisionDistance))
	}
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"INGEST_FLUSH_INTERVAL", c.Ingest.FlushInterval},
		{"VIOLATION_CHECK_INTERVAL", c.Violations.CheckInterval},
		{"ZONES_REFRESH_INTERVAL", c.Zones.RefreshInterval},
		{"INGEST_REGISTRY_REFRESH", c.Ingest.RegistryRefresh},
		{"PRESENCE_SWEEP_INTERVAL", c.Ingest.PresenceSweep},
	} {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", d.key, d.val))
		}
	}
	return errors.Join(errs...)
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "scheduler"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
