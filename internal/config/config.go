package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Engine    EngineConfig    `json:"engine" yaml:"engine"`
	Reasoning ReasoningConfig `json:"reasoning" yaml:"reasoning"`
	Profiles  ProfilesConfig  `json:"profiles" yaml:"profiles"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	State     StateConfig     `json:"state" yaml:"state"`
	History   HistoryConfig   `json:"history" yaml:"history"`
}

type IngestConfig struct {
	ChannelBuffer int           `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig    `json:"rest" yaml:"rest"`
	Kafka         KafkaConfig   `json:"kafka" yaml:"kafka"`
	MQTT          MQTTConfig    `json:"mqtt" yaml:"mqtt"`
	DedupeWindow  time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type MQTTConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	BrokerURL string `json:"broker_url" yaml:"broker_url"`
	Topic     string `json:"topic" yaml:"topic"`
	ClientID  string `json:"client_id" yaml:"client_id"`
	QoS       byte   `json:"qos" yaml:"qos"`
}

type EngineConfig struct {
	Thresholds      ThresholdsConfig `json:"thresholds" yaml:"thresholds"`
	SmoothingWindow int              `json:"smoothing_window" yaml:"smoothing_window"`
	SessionIdle     time.Duration    `json:"session_idle" yaml:"session_idle"`
}

type ThresholdsConfig struct {
	Shutdown float64 `json:"shutdown" yaml:"shutdown"`
	Green    float64 `json:"green" yaml:"green"`
	Yellow   float64 `json:"yellow" yaml:"yellow"`
	Orange   float64 `json:"orange" yaml:"orange"`
}

type ReasoningConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	BaseURL          string        `json:"base_url" yaml:"base_url"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`
	RetryCount       int           `json:"retry_count" yaml:"retry_count"`
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	Cooldown         time.Duration `json:"cooldown" yaml:"cooldown"`
}

type ProfilesConfig struct {
	Path string `json:"path" yaml:"path"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type StateConfig struct {
	StoreLimit int         `json:"store_limit" yaml:"store_limit"`
	Redis      RedisConfig `json:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	Addr      string        `json:"addr" yaml:"addr"`
	Password  string        `json:"password" yaml:"password"`
	DB        int           `json:"db" yaml:"db"`
	KeyPrefix string        `json:"key_prefix" yaml:"key_prefix"`
	TTL       time.Duration `json:"ttl" yaml:"ttl"`
}

type HistoryConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			Kafka:         KafkaConfig{Enabled: false},
			MQTT:          MQTTConfig{Enabled: false, ClientID: "attune-ingest", QoS: 1},
			DedupeWindow:  500 * time.Millisecond,
		},
		Engine: EngineConfig{
			Thresholds:      ThresholdsConfig{Shutdown: 0.20, Green: 0.45, Yellow: 0.65, Orange: 0.85},
			SmoothingWindow: 5,
			SessionIdle:     30 * time.Minute,
		},
		Reasoning: ReasoningConfig{
			Enabled:          false,
			Timeout:          4 * time.Second,
			RetryCount:       0,
			FailureThreshold: 3,
			Cooldown:         30 * time.Second,
		},
		Profiles: ProfilesConfig{Path: ""},
		API:      APIConfig{Enabled: true, Addr: ":8081"},
		Storage:  StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:attune.db?_pragma=busy_timeout(5000)"},
		State: StateConfig{
			StoreLimit: 5000,
			Redis:      RedisConfig{Enabled: false, Addr: "localhost:6379", KeyPrefix: "attune:state:", TTL: 5 * time.Minute},
		},
		History: HistoryConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Engine.SmoothingWindow <= 0 {
		cfg.Engine.SmoothingWindow = 5
	}
	if cfg.Engine.SessionIdle <= 0 {
		cfg.Engine.SessionIdle = 30 * time.Minute
	}
	if cfg.Engine.Thresholds == (ThresholdsConfig{}) {
		cfg.Engine.Thresholds = ThresholdsConfig{Shutdown: 0.20, Green: 0.45, Yellow: 0.65, Orange: 0.85}
	}
	if cfg.Reasoning.Timeout <= 0 {
		cfg.Reasoning.Timeout = 4 * time.Second
	}
	if cfg.Reasoning.FailureThreshold <= 0 {
		cfg.Reasoning.FailureThreshold = 3
	}
	if cfg.Reasoning.Cooldown <= 0 {
		cfg.Reasoning.Cooldown = 30 * time.Second
	}
	if cfg.State.StoreLimit <= 0 {
		cfg.State.StoreLimit = 5000
	}
	if cfg.State.Redis.KeyPrefix == "" {
		cfg.State.Redis.KeyPrefix = "attune:state:"
	}
	if cfg.State.Redis.TTL <= 0 {
		cfg.State.Redis.TTL = 5 * time.Minute
	}
	if cfg.History.StoreLimit <= 0 {
		cfg.History.StoreLimit = 1000
	}
	if cfg.Ingest.MQTT.ClientID == "" {
		cfg.Ingest.MQTT.ClientID = "attune-ingest"
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.MQTT.Enabled {
		if cfg.Ingest.MQTT.BrokerURL == "" || cfg.Ingest.MQTT.Topic == "" {
			return errors.New("ingest.mqtt requires broker_url and topic")
		}
	}
	if cfg.Reasoning.Enabled && cfg.Reasoning.BaseURL == "" {
		return errors.New("reasoning.base_url required when reasoning.enabled is true")
	}
	t := cfg.Engine.Thresholds
	if !(t.Shutdown > 0 && t.Shutdown <= t.Green && t.Green <= t.Yellow && t.Yellow <= t.Orange && t.Orange <= 1) {
		return fmt.Errorf("engine.thresholds must satisfy 0 < shutdown <= green <= yellow <= orange <= 1, got %+v", t)
	}
	if cfg.State.Redis.Enabled && cfg.State.Redis.Addr == "" {
		return errors.New("state.redis.addr required when state.redis.enabled is true")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps a fixed config with no backing file, for tests and
// embedded use.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return err
	}
	m.cfg.Store(cfg)
	if m.path == "" {
		return nil
	}
	if err := Save(m.path, cfg); err != nil {
		return err
	}
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return nil
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
