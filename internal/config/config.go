// Package config loads hub settings from an optional config.yaml plus
// environment overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Settings holds everything main wires from.
type Settings struct {
	HTTPPort int `mapstructure:"http_port"`

	RedisURL     string `mapstructure:"redis_url"`
	NATSURL      string `mapstructure:"nats_url"`
	HubNamespace string `mapstructure:"hub_namespace"`

	RegistryURL    string `mapstructure:"hub_registry_url"`
	RegistryAPIKey string `mapstructure:"hub_registry_api_key"`

	AgentTopicSuffix   string `mapstructure:"hub_agent_topic"`
	HubTopicSuffix     string `mapstructure:"hub_topic_suffix"`
	ReplayStreamSuffix string `mapstructure:"hub_redis_stream"`

	BackendBaseURL string `mapstructure:"backend_base_url"`
	TravelBaseURL  string `mapstructure:"amadeus_base_url"`

	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3Region    string `mapstructure:"s3_region"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`

	RegistryRefreshSeconds int `mapstructure:"registry_refresh_seconds"`
	SessionTTLSeconds      int `mapstructure:"session_ttl_seconds"`
}

// RegistryRefresh returns the cache refresh interval.
func (s *Settings) RegistryRefresh() time.Duration {
	return time.Duration(s.RegistryRefreshSeconds) * time.Second
}

// SessionTTL returns the tenant/session context expiry.
func (s *Settings) SessionTTL() time.Duration {
	return time.Duration(s.SessionTTLSeconds) * time.Second
}

// Load reads config.yaml if present, then applies env overrides.
func Load() (*Settings, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app/config")

	v.SetDefault("http_port", 8090)
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("nats_url", "")
	v.SetDefault("hub_namespace", "hub")
	v.SetDefault("hub_registry_url", "http://localhost:8000/hub/registry")
	v.SetDefault("hub_registry_api_key", "")
	v.SetDefault("hub_agent_topic", "ai.agent.events")
	v.SetDefault("hub_topic_suffix", "hub.events")
	v.SetDefault("hub_redis_stream", "hub:events")
	v.SetDefault("backend_base_url", "http://localhost:8000")
	v.SetDefault("amadeus_base_url", "http://localhost:8010")
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("s3_region", "eu-central-1")
	v.SetDefault("s3_bucket", "hub-case-documents")
	v.SetDefault("s3_access_key", "")
	v.SetDefault("s3_secret_key", "")
	v.SetDefault("registry_refresh_seconds", 60)
	v.SetDefault("session_ttl_seconds", 3600)

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &s, nil
}
