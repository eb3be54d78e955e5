package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	gateway "github.com/nimasrn/video-report/internal/gateways"
	"github.com/nimasrn/video-report/internal/queue"
	"github.com/nimasrn/video-report/pkg/logger"
	"github.com/nimasrn/video-report/pkg/pg"
	"github.com/nimasrn/video-report/pkg/redis"
	"github.com/nimasrn/video-report/pkg/storage"
	"github.com/pkg/errors"
)

var config *Config

// Config holds every configuration value of the api, processor and cli
// binaries. Nothing else reads the environment directly.
type Config struct {
	AppEnv              string `env:"APP_ENV,default=dev"`
	AppName             string `env:"APP_NAME,default=video_report"`
	AppDebug            bool   `env:"APP_DEBUG,default=false"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI,default=/metrics"`
	AppBaseUrl          string `env:"APP_BASE_URL,default=http://localhost:8080"`

	HttpListenAddr            string `env:"HTTP_LISTEN_ADDR,default=:8080"`
	HttpBaseRequestUrl        string `env:"HTTP_BASE_REQUEST_URI,default=/api/v1"`
	HttpServerReadTimeout     int    `env:"HTTP_SERVER_READ_TIMEOUT,default=10"`
	HttpServerWriteTimeout    int    `env:"HTTP_SERVER_WRITE_TIMEOUT,default=10"`
	HttpServerReadBufferSize  int    `env:"HTTP_SERVER_READ_BUFFER_SIZE"`
	HttpServerWriteBufferSize int    `env:"HTTP_SERVER_WRITE_BUFFER_SIZE"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT,default=5432"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT,default=5432"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	PostgresMaxOpenConns int `env:"POSTGRES_MAX_OPEN_CONNS,default=20"`
	PostgresMaxIdleConns int `env:"POSTGRES_MAX_IDLE_CONNS,default=5"`

	RedisAddr               string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX,default=video_report:"`

	PromNamespace string `env:"PROM_NAMESPACE,default=video_report"`

	LogLevel string `env:"LOG_LEVEL"`

	VideoQueueName         string        `env:"VIDEO_QUEUE_NAME,default=video_jobs"`
	DispatchQueueName      string        `env:"DISPATCH_QUEUE_NAME,default=dispatch_jobs"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP,default=processors"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES,default=3"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=2m"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL,default=1s"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE,default=10"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN,default=100000"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ,default=true"`

	VideoWorkers    int `env:"VIDEO_WORKERS,default=4"`
	DispatchWorkers int `env:"DISPATCH_WORKERS,default=8"`

	RendererPrimaryUrl   string        `env:"RENDERER_PRIMARY_URL"`
	RendererSecondaryUrl string        `env:"RENDERER_SECONDARY_URL"`
	ChannelPrimaryUrl    string        `env:"CHANNEL_PRIMARY_URL"`
	ChannelSecondaryUrl  string        `env:"CHANNEL_SECONDARY_URL"`
	RenderTimeout        time.Duration `env:"RENDER_TIMEOUT,default=90s"`
	SendTimeout          time.Duration `env:"SEND_TIMEOUT,default=15s"`

	GatewayMaxConns            int           `env:"GATEWAY_MAX_CONNS,default=64"`
	GatewayCircuitThreshold    int           `env:"GATEWAY_CIRCUIT_THRESHOLD,default=5"`
	GatewayCircuitTimeout      time.Duration `env:"GATEWAY_CIRCUIT_TIMEOUT,default=30s"`
	GatewayHealthCheckInterval time.Duration `env:"GATEWAY_HEALTH_CHECK_INTERVAL,default=30s"`

	DispatchLockTTL time.Duration `env:"DISPATCH_LOCK_TTL,default=2m"`
	// DeliveryStatusHoldTTL is how long a delivery callback that beat its
	// send waits for the send to be recorded.
	DeliveryStatusHoldTTL time.Duration `env:"DELIVERY_STATUS_HOLD_TTL,default=15m"`

	ShareLinkTTL time.Duration `env:"SHARE_LINK_TTL,default=168h"`

	StaleAfter    time.Duration `env:"STALE_AFTER,default=15m"`
	SweepSchedule string        `env:"SWEEP_SCHEDULE,default=@every 1m"`
	TrackInterval time.Duration `env:"TRACK_INTERVAL,default=5s"`

	S3Region          string        `env:"S3_REGION,default=us-east-1"`
	S3Endpoint        string        `env:"S3_ENDPOINT"`
	S3AccessKeyID     string        `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string        `env:"S3_SECRET_ACCESS_KEY"`
	S3PresignExpire   time.Duration `env:"S3_PRESIGN_EXPIRE,default=15m"`
	S3Enable          bool          `env:"S3_ENABLE,default=false"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	_, err = env.UnmarshalFromEnviron(c)
	if err != nil {
		return errors.Wrap(err, "failed to map env variables to Configuration object")
	}

	if err = c.validate(); err != nil {
		return err
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

// Set replaces the loaded configuration. Used by tests.
func Set(c *Config) {
	config = c
}

func (c *Config) validate() error {
	if c.VideoWorkers <= 0 || c.DispatchWorkers <= 0 {
		return errors.New("VIDEO_WORKERS and DISPATCH_WORKERS must be positive")
	}
	if c.RenderTimeout <= 0 || c.SendTimeout <= 0 {
		return errors.New("RENDER_TIMEOUT and SEND_TIMEOUT must be positive")
	}
	if c.DispatchLockTTL <= c.SendTimeout {
		return errors.New("DISPATCH_LOCK_TTL must exceed SEND_TIMEOUT")
	}
	// the sweeper would otherwise reset items whose call is still running
	if c.StaleAfter <= c.RenderTimeout || c.StaleAfter <= c.SendTimeout {
		return errors.New("STALE_AFTER must exceed RENDER_TIMEOUT and SEND_TIMEOUT")
	}
	if c.VideoQueueName == c.DispatchQueueName {
		return errors.New("VIDEO_QUEUE_NAME and DISPATCH_QUEUE_NAME must differ")
	}
	return nil
}

func (c *Config) PostgresRead() pg.Config {
	return pg.Config{
		User:         c.PostgresReadUser,
		Host:         c.PostgresReadHost,
		Port:         c.PostgresReadPort,
		Password:     c.PostgresReadPassword,
		Database:     c.PostgresReadDatabase,
		MaxOpenConns: c.PostgresMaxOpenConns,
		MaxIdleConns: c.PostgresMaxIdleConns,
	}
}

func (c *Config) PostgresWrite() pg.Config {
	return pg.Config{
		User:         c.PostgresWriteUser,
		Host:         c.PostgresWriteHost,
		Port:         c.PostgresWritePort,
		Password:     c.PostgresWritePassword,
		Database:     c.PostgresWriteDatabase,
		MaxOpenConns: c.PostgresMaxOpenConns,
		MaxIdleConns: c.PostgresMaxIdleConns,
	}
}

func (c *Config) Redis() *redis.Options {
	return &redis.Options{
		Addrs:    []string{c.RedisAddr},
		Username: c.RedisUsername,
		Password: c.RedisPassword,
		DB:       c.RedisDatabase,
	}
}

func (c *Config) S3() storage.S3Config {
	return storage.S3Config{
		Region:          c.S3Region,
		Endpoint:        c.S3Endpoint,
		AccessKeyID:     c.S3AccessKeyID,
		SecretAccessKey: c.S3SecretAccessKey,
		PresignExpire:   c.S3PresignExpire,
	}
}

// Queue returns the stream settings shared by the video and dispatch queues.
func (c *Config) Queue(name string) queue.QueueConfig {
	return queue.QueueConfig{
		Name:              name,
		ConsumerGroup:     c.QueueConsumerGroup,
		ConsumerName:      c.QueueConsumerName,
		MaxRetries:        c.QueueMaxRetries,
		VisibilityTimeout: c.QueueVisibilityTimeout,
		PollInterval:      c.QueuePollInterval,
		BatchSize:         c.QueueBatchSize,
		MaxLen:            c.QueueMaxLen,
		EnableDLQ:         c.QueueEnableDLQ,
	}
}

func (c *Config) RendererGateway() gateway.Config {
	return c.gateway("renderer", c.RendererPrimaryUrl, c.RendererSecondaryUrl, c.RenderTimeout)
}

func (c *Config) ChannelGateway() gateway.Config {
	return c.gateway("channel", c.ChannelPrimaryUrl, c.ChannelSecondaryUrl, c.SendTimeout)
}

func (c *Config) gateway(name, primary, secondary string, timeout time.Duration) gateway.Config {
	return gateway.Config{
		Collaborator: name,
		Providers: []gateway.ProviderConfig{
			{Name: "primary", URL: primary, Weight: 100},
			{Name: "secondary", URL: secondary, Weight: 80},
		},
		Timeout:                 timeout,
		MaxConns:                c.GatewayMaxConns,
		HealthCheckInterval:     c.GatewayHealthCheckInterval,
		CircuitBreakerThreshold: c.GatewayCircuitThreshold,
		CircuitBreakerTimeout:   c.GatewayCircuitTimeout,
	}
}
