package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/internal/signaling"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(body), 0o644))
	return dir
}

func TestLoadDirector_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := LoadDirector(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8090", cfg.Server.Addr())
	assert.Equal(t, signaling.DriverMemory, cfg.Signaling.Driver)
	assert.Equal(t, 15*time.Second, cfg.Camera.StaleAfter)
	assert.Equal(t, time.Second, cfg.Recording.Timeslice)
	assert.Equal(t, 2500000, cfg.Recording.VideoBitsPerSecond)
	assert.Equal(t, "local", cfg.Storage.Driver)
	assert.Equal(t, "/media", cfg.Storage.Local.PublicURL)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "broadcast-events", cfg.Kafka.Topic)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)

	peerCfg := cfg.WebRTC.Peer()
	require.Len(t, peerCfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, peerCfg.ICEServers[0].URLs)
}

func TestLoadDirector_FileAndEnv(t *testing.T) {
	dir := writeConfig(t, "director", `
server:
  port: 9000
signaling:
  driver: redis
  redis:
    key_prefix: stadium
recording:
  timeslice: 250ms
  codec: video/VP9
storage:
  driver: s3
  s3:
    bucket: tapes
webrtc:
  ice_servers:
    - urls: ["turn:turn.example.org:3478"]
      username: cam
      credential: pw
auth:
  jwt_secret: from-file
`)
	t.Setenv("PORT", "9100")
	t.Setenv("S3_ENDPOINT", "http://minio:9000")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("SHOWS", "derby,final")

	cfg, err := LoadDirector(dir)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, signaling.DriverRedis, cfg.Signaling.Driver)
	assert.Equal(t, "stadium", cfg.Signaling.Redis.KeyPrefix)
	assert.Equal(t, 250*time.Millisecond, cfg.Recording.Timeslice)
	assert.Equal(t, "video/VP9", cfg.Recording.Codec)
	assert.Equal(t, "tapes", cfg.Storage.S3.Bucket)
	assert.Equal(t, "http://minio:9000", cfg.Storage.S3.Endpoint)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"derby", "final"}, cfg.Shows)

	peerCfg := cfg.WebRTC.Peer()
	require.Len(t, peerCfg.ICEServers, 1)
	assert.Equal(t, "cam", peerCfg.ICEServers[0].Username)
}

func TestLoadDirector_DotEnv(t *testing.T) {
	dir := writeConfig(t, "director", "server:\n  host: 127.0.0.1\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("JWT_SECRET=from-dotenv\nPORT=9200\n"), 0o644))
	t.Setenv("PORT", "9300")
	t.Cleanup(func() { os.Unsetenv("JWT_SECRET") })

	cfg, err := LoadDirector(dir)
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", cfg.Auth.JWTSecret)
	assert.Equal(t, "127.0.0.1:9300", cfg.Server.Addr(), "process env wins over .env")
}

func TestLoadDirector_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing secret", "server:\n  port: 9000\n"},
		{"unknown store", "auth:\n  jwt_secret: x\nsignaling:\n  driver: etcd\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadDirector(writeConfig(t, "director", tt.body))
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}
}

func TestLoadCamera(t *testing.T) {
	t.Setenv("SHOW_ID", "derby")
	t.Setenv("CAMERA_SLOT", "camera3")
	t.Setenv("VIDEO_FILE", "/videos/tribune.ivf")

	cfg, err := LoadCamera(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, signaling.DriverRedis, cfg.Signaling.Driver)
	assert.Equal(t, "derby", cfg.Agent.ShowID)
	assert.Equal(t, "camera3", cfg.Agent.Slot)
	assert.Equal(t, 5*time.Second, cfg.Agent.HeartbeatInterval)
	assert.True(t, cfg.Agent.Loop)
	assert.Equal(t, 8091, cfg.Server.Port)
}

func TestLoadCamera_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"no show", map[string]string{"VIDEO_FILE": "a.ivf"}},
		{"bad slot", map[string]string{"SHOW_ID": "s", "VIDEO_FILE": "a.ivf", "CAMERA_SLOT": "camera7"}},
		{"no video", map[string]string{"SHOW_ID": "s"}},
		{"memory store", map[string]string{"SHOW_ID": "s", "VIDEO_FILE": "a.ivf", "SIGNALING_DRIVER": "memory"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadCamera(t.TempDir())
			require.Error(t, err)
		})
	}
}
