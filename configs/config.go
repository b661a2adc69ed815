package configs

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServerPort             string `envconfig:"SERVER_PORT" default:"3000"`
	ServerTimeOutInSeconds int64  `envconfig:"SERVER_TIME_OUT_IN_SECONDS" default:"5"`
	WorkerPort             string `envconfig:"WORKER_PORT" default:"3001"`
	Environment            string `envconfig:"NODE_ENV" default:"development"`
	CORSOrigin             string `envconfig:"CORS_ORIGIN" default:"http://localhost:8080"`
	StorageDriver          string `envconfig:"STORAGE_DRIVER" default:"postgres"`
	IDAllocator            string `envconfig:"ID_ALLOCATOR" default:"sequence"`
	LeadsOwnerID           string `envconfig:"LEADS_OWNER_ID" default:"1"`
	Auth                   AuthConfig
	Database               DatabaseConfig
	RabbitMQ               RabbitMQConfig
	RedisConfig            RedisConfig
	Uptime                 UptimeConfig
	RateLimit              RateLimitConfig
}

type AuthConfig struct {
	JWTSecret string `envconfig:"JWT_SECRET"`
	Issuer    string `envconfig:"JWT_ISSUER"`
}

type DatabaseConfig struct {
	Username     string `envconfig:"DB_USERNAME"`
	Password     string `envconfig:"DB_PASSWORD"`
	Host         string `envconfig:"DB_HOST"`
	Port         string `envconfig:"DB_PORT"`
	Database     string `envconfig:"DB_DATABASE"`
	DatabaseTest string `envconfig:"DB_DATABASE_TEST"`
	SSLMode      string `envconfig:"DB_SSL_MODE" default:"require"`
	PoolMaxConns int    `envconfig:"DB_POOL_MAX_CONNS" default:"4"`
}

type RabbitMQConfig struct {
	Enabled           bool   `envconfig:"RABBIT_ENABLED" default:"false"`
	Username          string `envconfig:"RABBIT_USERNAME"`
	Password          string `envconfig:"RABBIT_PASSWORD"`
	Host              string `envconfig:"RABBIT_HOST"`
	Port              string `envconfig:"RABBIT_PORT"`
	ActivityQueueName string `envconfig:"ACTIVITY_QUEUE_NAME" default:"task_activity"`
}

type RedisConfig struct {
	Enabled  bool   `envconfig:"REDIS_ENABLED" default:"false"`
	Username string `envconfig:"REDIS_USERNAME"`
	Password string `envconfig:"REDIS_PASSWORD"`
	Host     string `envconfig:"REDIS_HOST"`
	Port     string `envconfig:"REDIS_PORT"`
	DBIndex  int32  `envconfig:"REDIS_DB_INDEX"`
}

type UptimeConfig struct {
	Enabled      bool          `envconfig:"UPTIME_ENABLED" default:"true"`
	Interval     time.Duration `envconfig:"UPTIME_INTERVAL" default:"5m"`
	Limit        int32         `envconfig:"UPTIME_LIMIT" default:"100"`
	BatchSize    int           `envconfig:"UPTIME_BATCH_SIZE" default:"10"`
	Cooldown     time.Duration `envconfig:"UPTIME_BATCH_COOLDOWN" default:"2s"`
	ProbeTimeout time.Duration `envconfig:"UPTIME_PROBE_TIMEOUT" default:"10s"`
	DialTimeout  time.Duration `envconfig:"UPTIME_DIAL_TIMEOUT" default:"5s"`
}

type RateLimitConfig struct {
	Backend         string        `envconfig:"RATE_LIMIT_BACKEND" default:"memory"`
	AuthMaxAttempts int           `envconfig:"RATE_LIMIT_AUTH_MAX" default:"5"`
	AuthWindow      time.Duration `envconfig:"RATE_LIMIT_AUTH_WINDOW" default:"15m"`
	LeadsMax        int           `envconfig:"RATE_LIMIT_LEADS_MAX" default:"10"`
	LeadsWindow     time.Duration `envconfig:"RATE_LIMIT_LEADS_WINDOW" default:"1h"`
}

// IsProduction reports whether error details must be hidden from callers
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// ToMigrationUri returns a string specifically for the migration package with the right prefix
func (d DatabaseConfig) ToMigrationUri() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%s/%s?sslmode=%s",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.Database,
		d.SSLMode,
	)
}

// ToTestMigrationUri returns a string specifically for the migration package with the right prefix for test database
func (d DatabaseConfig) ToTestMigrationUri() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%s/%s?sslmode=%s",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.DatabaseTest,
		d.SSLMode,
	)
}

// ToDbConnectionUri returns a connection URI to be used with the pgx package
func (d DatabaseConfig) ToDbConnectionUri() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conns=%d",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.Database,
		d.SSLMode,
		d.PoolMaxConns,
	)
}

// ToRabbitConnectionUri returns a connection URI to be used with the rabbitmq/amqp091-go package
func (d RabbitMQConfig) ToRabbitConnectionUri() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
	)
}

// ToRedisConnectionUri returns a connection URI to be used with the redis/go-redis/v9 package
func (d RedisConfig) ToRedisConnectionUri() string {
	return fmt.Sprintf("redis://%s:%s@%s:%s/%d",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.DBIndex,
	)
}

func InitConfig() *Config {
	err := godotenv.Load()

	if err != nil && !os.IsNotExist(err) {
		log.Fatalf("Unable to load .env %v", err)
	}

	var cfg Config
	err = envconfig.Process("", &cfg)
	if err != nil {
		log.Fatalf("Cannot load env: %v", err)
	}

	return &cfg
}
