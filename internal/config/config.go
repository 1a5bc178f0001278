// Package config loads the director and camera-agent configuration from a
// YAML file and the environment.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/weiawesome/wes-io-multicam/internal/broadcast"
	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/internal/events"
	"github.com/weiawesome/wes-io-multicam/internal/hub"
	"github.com/weiawesome/wes-io-multicam/internal/peer"
	"github.com/weiawesome/wes-io-multicam/internal/recording"
	"github.com/weiawesome/wes-io-multicam/internal/signaling"
	pkgconfig "github.com/weiawesome/wes-io-multicam/pkg/config"
	"github.com/weiawesome/wes-io-multicam/pkg/database"
	"github.com/weiawesome/wes-io-multicam/pkg/log"
	"github.com/weiawesome/wes-io-multicam/pkg/storage"
)

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type WebRTCConfig struct {
	peer.Config `mapstructure:",squash"`
	// STUNURL is used when no ICE servers are listed.
	STUNURL string `mapstructure:"stun_url"`
}

// Peer returns the peer factory configuration.
func (w WebRTCConfig) Peer() peer.Config {
	cfg := w.Config
	if len(cfg.ICEServers) == 0 && w.STUNURL != "" {
		cfg.ICEServers = []peer.ICEServerConfig{{URLs: []string{w.STUNURL}}}
	}
	return cfg
}

type DatabaseConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	database.Config `mapstructure:",squash"`
}

type KafkaConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	events.Config `mapstructure:",squash"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	Issuer        string        `mapstructure:"issuer"`
	TokenDuration time.Duration `mapstructure:"token_duration"`
}

// Director is the director service configuration.
type Director struct {
	Server    ServerConfig     `mapstructure:"server"`
	Log       log.Config       `mapstructure:"log"`
	Signaling signaling.Config `mapstructure:"signaling"`
	Camera    broadcast.Config `mapstructure:"camera"`
	WebRTC    WebRTCConfig     `mapstructure:"webrtc"`
	Storage   storage.Config   `mapstructure:"storage"`
	Recording recording.Config `mapstructure:"recording"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Kafka     KafkaConfig      `mapstructure:"kafka"`
	Auth      AuthConfig       `mapstructure:"auth"`
	WebSocket hub.Config       `mapstructure:"websocket"`
	// Shows are opened at startup so cameras can join before any operator
	// request arrives.
	Shows []string `mapstructure:"shows"`
	// NegotiateTimeout bounds answering one camera.
	NegotiateTimeout time.Duration `mapstructure:"negotiate_timeout"`
}

type AgentConfig struct {
	ShowID            string        `mapstructure:"show_id"`
	Slot              string        `mapstructure:"slot"`
	DeviceName        string        `mapstructure:"device_name"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	VideoFile         string        `mapstructure:"video_file"`
	Loop              bool          `mapstructure:"loop"`
}

// Camera is the camera agent configuration.
type Camera struct {
	Server    ServerConfig     `mapstructure:"server"`
	Log       log.Config       `mapstructure:"log"`
	Signaling signaling.Config `mapstructure:"signaling"`
	Broadcast broadcast.Config `mapstructure:"broadcast"`
	WebRTC    WebRTCConfig     `mapstructure:"webrtc"`
	Agent     AgentConfig      `mapstructure:"agent"`
}

func setSharedDefaults(v *viper.Viper, service string, port int) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", port)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", service)
	v.SetDefault("signaling.driver", signaling.DriverMemory)
	v.SetDefault("signaling.redis.address", "localhost:6379")
	v.SetDefault("signaling.redis.db", 0)
	v.SetDefault("signaling.redis.key_prefix", "multicam:")
	v.SetDefault("signaling.notify.driver", "redis")
	v.SetDefault("signaling.notify.redis.address", "localhost:6379")
	v.SetDefault("signaling.notify.redis.pool_size", 10)
	v.SetDefault("signaling.notify.redis.read_timeout", "3s")
	v.SetDefault("signaling.notify.redis.write_timeout", "3s")
	v.SetDefault("signaling.notify.kafka.brokers", "localhost:9092")
	v.SetDefault("signaling.notify.kafka.group_id", service)
	v.SetDefault("signaling.notify.kafka.partitions", 4)
	v.SetDefault("webrtc.stun_url", "stun:stun.l.google.com:19302")
}

func sharedEnvs() map[string][]string {
	return map[string][]string{
		"server.port":                     {"PORT"},
		"log.level":                       {"LOG_LEVEL"},
		"log.pretty":                      {"LOG_PRETTY"},
		"signaling.driver":                {"SIGNALING_DRIVER"},
		"signaling.redis.address":         {"REDIS_ADDRESS"},
		"signaling.redis.password":        {"REDIS_PASSWORD"},
		"signaling.notify.driver":         {"SIGNALING_NOTIFY_DRIVER"},
		"signaling.notify.redis.address":  {"REDIS_ADDRESS"},
		"signaling.notify.redis.password": {"REDIS_PASSWORD"},
		"signaling.notify.kafka.brokers":  {"KAFKA_BROKERS"},
		"webrtc.stun_url":                 {"STUN_URL"},
	}
}

// LoadDirector loads the director service configuration.
func LoadDirector(configPath string) (*Director, error) {
	v, err := pkgconfig.Load(configPath, "director")
	if err != nil {
		return nil, err
	}

	// Set defaults
	setSharedDefaults(v, "director", 8090)
	v.SetDefault("negotiate_timeout", "15s")
	v.SetDefault("camera.stale_after", "15s")
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local.base_path", "./data/media")
	v.SetDefault("storage.local.public_url", "/media")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.bucket", "multicam:")
	v.SetDefault("storage.s3.use_path_style", true)
	v.SetDefault("recording.timeslice", "1s")
	v.SetDefault("recording.video_bits_per_second", 2500000)
	v.SetDefault("recording.codec", "video/VP8")
	v.SetDefault("recording.key_prefix", "recordings")
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "./data/multicam.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "broadcast-events")
	v.SetDefault("kafka.partitions", 4)
	v.SetDefault("auth.issuer", "wes-io-multicam")
	v.SetDefault("auth.token_duration", "12h")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.send_buffer", 64)

	// Override from environment
	envs := sharedEnvs()
	envs["camera.stale_after"] = []string{"CAMERA_STALE_AFTER"}
	envs["storage.driver"] = []string{"STORAGE_DRIVER"}
	envs["storage.local.base_path"] = []string{"STORAGE_BASE_PATH"}
	envs["storage.s3.endpoint"] = []string{"S3_ENDPOINT"}
	envs["storage.s3.region"] = []string{"S3_REGION"}
	envs["storage.s3.bucket"] = []string{"S3_BUCKET"}
	envs["storage.s3.access_key_id"] = []string{"S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}
	envs["storage.s3.secret_access_key"] = []string{"S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}
	envs["storage.s3.public_url"] = []string{"S3_PUBLIC_URL"}
	envs["recording.timeslice"] = []string{"RECORDING_TIMESLICE"}
	envs["database.enabled"] = []string{"DATABASE_ENABLED"}
	envs["database.driver"] = []string{"DATABASE_DRIVER"}
	envs["database.host"] = []string{"DATABASE_HOST"}
	envs["database.port"] = []string{"DATABASE_PORT"}
	envs["database.user"] = []string{"DATABASE_USER"}
	envs["database.password"] = []string{"DATABASE_PASSWORD"}
	envs["database.dbname"] = []string{"DATABASE_NAME"}
	envs["database.file_path"] = []string{"DATABASE_FILE_PATH"}
	envs["kafka.enabled"] = []string{"KAFKA_ENABLED"}
	envs["kafka.brokers"] = []string{"KAFKA_BROKERS"}
	envs["kafka.topic"] = []string{"KAFKA_BROADCAST_TOPIC"}
	envs["auth.jwt_secret"] = []string{"JWT_SECRET"}
	envs["shows"] = []string{"SHOWS"}
	if err := pkgconfig.BindEnvs(v, envs); err != nil {
		return nil, err
	}

	var cfg Director
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Director) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("%w: auth.jwt_secret is required", domain.ErrInvalidArgument)
	}
	return validateSignaling(c.Signaling)
}

// LoadCamera loads the camera agent configuration.
func LoadCamera(configPath string) (*Camera, error) {
	v, err := pkgconfig.Load(configPath, "camera")
	if err != nil {
		return nil, err
	}

	// Set defaults
	setSharedDefaults(v, "camera-agent", 8091)
	v.SetDefault("signaling.driver", signaling.DriverRedis)
	v.SetDefault("broadcast.stale_after", "15s")
	v.SetDefault("agent.slot", string(domain.Camera1))
	v.SetDefault("agent.heartbeat_interval", "5s")
	v.SetDefault("agent.loop", true)

	// Override from environment
	envs := sharedEnvs()
	envs["broadcast.stale_after"] = []string{"CAMERA_STALE_AFTER"}
	envs["agent.show_id"] = []string{"SHOW_ID"}
	envs["agent.slot"] = []string{"CAMERA_SLOT"}
	envs["agent.device_name"] = []string{"DEVICE_NAME"}
	envs["agent.video_file"] = []string{"VIDEO_FILE"}
	envs["agent.loop"] = []string{"VIDEO_LOOP"}
	if err := pkgconfig.BindEnvs(v, envs); err != nil {
		return nil, err
	}

	var cfg Camera
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Camera) validate() error {
	if c.Agent.ShowID == "" {
		return fmt.Errorf("%w: agent.show_id is required", domain.ErrInvalidArgument)
	}
	if _, err := domain.ParseSlot(c.Agent.Slot); err != nil {
		return err
	}
	if c.Agent.VideoFile == "" {
		return fmt.Errorf("%w: agent.video_file is required", domain.ErrInvalidArgument)
	}
	if c.Signaling.Driver == signaling.DriverMemory {
		return fmt.Errorf("%w: a camera agent needs a shared signaling store", domain.ErrInvalidArgument)
	}
	return validateSignaling(c.Signaling)
}

func validateSignaling(s signaling.Config) error {
	switch s.Driver {
	case signaling.DriverMemory, signaling.DriverRedis:
		return nil
	default:
		return fmt.Errorf("%w: unsupported signaling driver %q", domain.ErrInvalidArgument, s.Driver)
	}
}
