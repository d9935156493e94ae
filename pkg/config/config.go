// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full service configuration.
type Config struct {
	HTTPPort      string
	AdminAPIToken string

	Bus       BusConfig
	Bots      BotsConfig
	Collector CollectorConfig
}

// BusConfig configures the Redis message bus and the two durable streams.
type BusConfig struct {
	RedisURL string

	TranscriptionStream string
	TranscriptionGroup  string
	SpeakerStream       string
	SpeakerGroup        string
	ConsumerName        string

	StreamReadCount   int64
	StreamBlock       time.Duration
	PendingMsgTimeout time.Duration

	SegmentTTL      time.Duration
	SpeakerEventTTL time.Duration
}

// BotsConfig configures bot container launches and the lifecycle manager.
type BotsConfig struct {
	DockerHost    string
	BotImage      string
	DockerNetwork string

	// CallbackURL is where bots POST their exit callback.
	CallbackURL string

	// Automatic-leave budgets passed to the bot, in milliseconds.
	WaitingRoomTimeoutMS  int
	NoOneJoinedTimeoutMS  int
	EveryoneLeftTimeoutMS int

	// DelayedStopAfter is how long after a stop request the container is
	// force-stopped if the bot has not left on its own.
	DelayedStopAfter time.Duration
	StopTimeout      time.Duration
}

// CollectorConfig configures the segment promoter.
type CollectorConfig struct {
	PromoterInterval      time.Duration
	ImmutabilityThreshold time.Duration
}

// Load reads configuration from environment variables, applying defaults.
func Load() (*Config, error) {
	readCount, err := getEnvInt("REDIS_STREAM_READ_COUNT", 10)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPPort:      getEnvOrDefault("HTTP_PORT", "8080"),
		AdminAPIToken: os.Getenv("ADMIN_API_TOKEN"),
		Bus: BusConfig{
			RedisURL:            getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
			TranscriptionStream: getEnvOrDefault("REDIS_STREAM_NAME", "transcription_segments"),
			TranscriptionGroup:  getEnvOrDefault("REDIS_CONSUMER_GROUP", "collector_group"),
			SpeakerStream:       getEnvOrDefault("REDIS_SPEAKER_EVENTS_STREAM_NAME", "speaker_events_relative"),
			SpeakerGroup:        getEnvOrDefault("REDIS_SPEAKER_EVENTS_CONSUMER_GROUP", "collector_speaker_group"),
			ConsumerName:        getEnvOrDefault("POD_NAME", "collector-main"),
			StreamReadCount:     int64(readCount),
			StreamBlock:         envMillis("REDIS_STREAM_BLOCK_MS", 2000),
			PendingMsgTimeout:   envMillis("PENDING_MSG_TIMEOUT_MS", 60000),
			SegmentTTL:          envSeconds("REDIS_SEGMENT_TTL", 3600),
			SpeakerEventTTL:     envSeconds("REDIS_SPEAKER_EVENT_TTL", 86400),
		},
		Bots: BotsConfig{
			DockerHost:            getEnvOrDefault("DOCKER_HOST", "unix:///var/run/docker.sock"),
			BotImage:              getEnvOrDefault("BOT_IMAGE", "vexa-bot:latest"),
			DockerNetwork:         getEnvOrDefault("DOCKER_NETWORK", "vexa_default"),
			CallbackURL:           getEnvOrDefault("BOT_MANAGER_CALLBACK_URL", "http://bot-manager:8080/bots/internal/callback/exited"),
			WaitingRoomTimeoutMS:  envInt("BOT_WAITING_ROOM_TIMEOUT_MS", 300000),
			NoOneJoinedTimeoutMS:  envInt("BOT_NO_ONE_JOINED_TIMEOUT_MS", 300000),
			EveryoneLeftTimeoutMS: envInt("BOT_EVERYONE_LEFT_TIMEOUT_MS", 300000),
			DelayedStopAfter:      envSeconds("BOT_DELAYED_STOP_SECONDS", 30),
			StopTimeout:           envSeconds("BOT_STOP_TIMEOUT_SECONDS", 30),
		},
		Collector: CollectorConfig{
			PromoterInterval:      envSeconds("BACKGROUND_TASK_INTERVAL", 10),
			ImmutabilityThreshold: envSeconds("IMMUTABILITY_THRESHOLD", 30),
		},
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// envInt is like getEnvInt but falls back to the default on malformed values.
func envInt(key string, defaultVal int) int {
	n, err := getEnvInt(key, defaultVal)
	if err != nil {
		return defaultVal
	}
	return n
}

func envSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(envInt(key, defaultSeconds)) * time.Second
}

func envMillis(key string, defaultMS int) time.Duration {
	return time.Duration(envInt(key, defaultMS)) * time.Millisecond
}
