package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/color"
)

// Config holds all application configuration.
type Config struct {
	Hub        HubConfig        `yaml:"hub"`
	Server     ServerConfig     `yaml:"server"`
	HTTP       HTTPConfig       `yaml:"http"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Settings   SettingsConfig   `yaml:"settings"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Log        LogConfig        `yaml:"log"`
}

// HubConfig holds the lighting hub connection and filtering settings.
type HubConfig struct {
	Address       string        `yaml:"address"`
	Key           string        `yaml:"key"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	Timeout       time.Duration `yaml:"timeout"`
	DeviceTypes   []string      `yaml:"device_types"`
	Gamut         string        `yaml:"gamut"`
	ExcludedKeys  []string      `yaml:"excluded_keys"`
	TransientKeys []string      `yaml:"transient_keys"`
	DiscoveryURL  string        `yaml:"discovery_url"`
	DeviceName    string        `yaml:"device_type_name"`
	PairRetry     time.Duration `yaml:"pair_retry"`
}

// ServerConfig holds the line-protocol server settings.
type ServerConfig struct {
	Addr             string        `yaml:"addr"`
	ReplayDelay      time.Duration `yaml:"replay_delay"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	QueueCapacity    int           `yaml:"queue_capacity"`
	ProbeInterval    time.Duration `yaml:"probe_interval"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
	BindRetry        time.Duration `yaml:"bind_retry"`
}

// HTTPConfig holds the optional status API and WebSocket endpoint.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// MQTTConfig holds MQTT broker configuration.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// InfluxDBConfig holds the optional state history sink.
type InfluxDBConfig struct {
	Enabled         bool   `yaml:"enabled"`
	URL             string `yaml:"url"`
	Token           string `yaml:"token"`
	Org             string `yaml:"org"`
	Bucket          string `yaml:"bucket"`
	Measurement     string `yaml:"measurement"`
	BatchSize       uint   `yaml:"batch_size"`
	FlushIntervalMS uint   `yaml:"flush_interval_ms"`
}

// SettingsConfig points at the persisted hub address and key.
type SettingsConfig struct {
	Path string `yaml:"path"`
}

// SupervisorConfig bounds automatic restarts of the relay.
type SupervisorConfig struct {
	MaxRestarts  int           `yaml:"max_restarts"`
	RestartDelay time.Duration `yaml:"restart_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	// StableAfter resets the restart delay once a run has lasted this
	// long. Zero keeps doubling for the life of the process.
	StableAfter time.Duration `yaml:"stable_after"`
}

// LogConfig holds logging configuration. Output is stdout, stderr or a
// file path.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() Config {
	return Config{
		Hub: HubConfig{
			PollInterval:  time.Second,
			Timeout:       4 * time.Second,
			DeviceTypes:   []string{"SML001", "Room"},
			Gamut:         "C",
			ExcludedKeys:  []string{"swupdate", "capabilities", "swconfigid", "productid"},
			TransientKeys: []string{"config", "resourcelinks", "rules", "schedules"},
			DiscoveryURL:  "https://discovery.meethue.com",
			DeviceName:    "HTTPBridge",
			PairRetry:     10 * time.Second,
		},
		Server: ServerConfig{
			Addr:             ":8085",
			ReplayDelay:      2 * time.Second,
			WriteTimeout:     5 * time.Second,
			QueueCapacity:    100,
			ProbeInterval:    30 * time.Second,
			ProbeTimeout:     10 * time.Second,
			WatchdogInterval: 5 * time.Second,
			BindRetry:        10 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr: ":8086",
		},
		MQTT: MQTTConfig{
			TopicPrefix: "huerelay",
			ClientID:    "huerelay",
		},
		InfluxDB: InfluxDBConfig{
			Measurement:     "hue_state",
			BatchSize:       100,
			FlushIntervalMS: 1000,
		},
		Settings: SettingsConfig{
			Path: "savant-hue.json",
		},
		Supervisor: SupervisorConfig{
			MaxRestarts:  100,
			RestartDelay: 2 * time.Second,
			MaxDelay:     5 * time.Minute,
			StableAfter:  time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads configuration from a YAML file at path, then overlays environment variables.
// If path is empty, only defaults + env vars are used.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// Validate rejects settings the relay cannot run with.
func (c Config) Validate() error {
	if c.Hub.PollInterval <= 0 {
		return fmt.Errorf("config: hub.poll_interval must be positive, got %s", c.Hub.PollInterval)
	}
	if c.Hub.Timeout <= 0 {
		return fmt.Errorf("config: hub.timeout must be positive, got %s", c.Hub.Timeout)
	}
	if _, err := color.GamutByName(c.Hub.Gamut); err != nil {
		return fmt.Errorf("config: hub.gamut: %w", err)
	}
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return fmt.Errorf("config: server.addr: %w", err)
	}
	if c.Server.QueueCapacity <= 0 {
		return fmt.Errorf("config: server.queue_capacity must be positive, got %d", c.Server.QueueCapacity)
	}
	if c.Server.ProbeInterval <= 0 || c.Server.ProbeTimeout <= 0 {
		return fmt.Errorf("config: server probe interval and timeout must be positive")
	}
	if c.Supervisor.MaxRestarts < 0 {
		return fmt.Errorf("config: supervisor.max_restarts must not be negative")
	}
	if c.Supervisor.StableAfter < 0 {
		return fmt.Errorf("config: supervisor.stable_after must not be negative")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("config: mqtt.broker is required when mqtt is enabled")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		return fmt.Errorf("config: influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}
	return nil
}

// applyEnv overlays environment variables on top of the config.
// Env vars take precedence over YAML values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("HUERELAY_HUB_ADDRESS"); v != "" {
		cfg.Hub.Address = v
	}
	if v := os.Getenv("HUERELAY_HUB_KEY"); v != "" {
		cfg.Hub.Key = v
	}
	if v := os.Getenv("HUERELAY_POLL_INTERVAL"); v != "" {
		setDuration(&cfg.Hub.PollInterval, v)
	}
	if v := os.Getenv("HUERELAY_DEVICE_TYPES"); v != "" {
		cfg.Hub.DeviceTypes = SplitList(v)
	}
	if v := os.Getenv("HUERELAY_GAMUT"); v != "" {
		cfg.Hub.Gamut = v
	}
	if v := os.Getenv("HUERELAY_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("HUERELAY_HTTP_ENABLED"); v != "" {
		cfg.HTTP.Enabled = parseBool(v)
	}
	if v := os.Getenv("HUERELAY_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("HUERELAY_MQTT_ENABLED"); v != "" {
		cfg.MQTT.Enabled = parseBool(v)
	}
	if v := os.Getenv("HUERELAY_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("HUERELAY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("HUERELAY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("HUERELAY_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = v
	}
	if v := os.Getenv("HUERELAY_INFLUXDB_ENABLED"); v != "" {
		cfg.InfluxDB.Enabled = parseBool(v)
	}
	if v := os.Getenv("HUERELAY_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("HUERELAY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("HUERELAY_INFLUXDB_ORG"); v != "" {
		cfg.InfluxDB.Org = v
	}
	if v := os.Getenv("HUERELAY_INFLUXDB_BUCKET"); v != "" {
		cfg.InfluxDB.Bucket = v
	}
	if v := os.Getenv("HUERELAY_SUPERVISOR_STABLE_AFTER"); v != "" {
		setDuration(&cfg.Supervisor.StableAfter, v)
	}
	if v := os.Getenv("HUERELAY_SETTINGS_PATH"); v != "" {
		cfg.Settings.Path = v
	}
	if v := os.Getenv("HUERELAY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("HUERELAY_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("HUERELAY_LOG_OUTPUT"); v != "" {
		cfg.Log.Output = v
	}
}

// SplitList splits a comma or whitespace separated list, dropping blanks.
func SplitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

func setDuration(dst *time.Duration, s string) {
	if d, err := ParseSeconds(s); err == nil {
		*dst = d
	}
}

// ParseSeconds accepts either a Go duration ("1.5s") or a bare number of
// seconds ("1.5").
func ParseSeconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: invalid duration %q", s)
	}
	return d, nil
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	b, _ := strconv.ParseBool(s)
	return b
}
