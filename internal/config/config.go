package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "SHADOW_"

// Config represents the application configuration
type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Radio      RadioConfig      `yaml:"radio"`
	Targets    TargetsConfig    `yaml:"targets"`
	Scan       ScanConfig       `yaml:"scan"`
	Capture    CaptureConfig    `yaml:"capture"`
	Store      StoreConfig      `yaml:"store"`
	Controller ControllerConfig `yaml:"controller"`
	Autostart  AutostartConfig  `yaml:"autostart"`
	API        APIConfig        `yaml:"api"`
	Auth       AuthConfig       `yaml:"auth"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// DeviceConfig represents device identity
type DeviceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// RadioConfig represents the monitor interface
type RadioConfig struct {
	Interface    string        `yaml:"interface"`
	Source       string        `yaml:"source"` // live | file
	ReplayFile   string        `yaml:"replay_file"`
	ReplayDelay  time.Duration `yaml:"replay_delay"`
	SnapLen      int           `yaml:"snaplen"`
	MonitorSetup bool          `yaml:"monitor_setup"`
	FrameBuffer  int           `yaml:"frame_buffer"`
}

// TargetsConfig represents target selection lists
type TargetsConfig struct {
	SSIDs         []string `yaml:"ssids"`
	BSSIDs        []string `yaml:"bssids"`
	Ignore        []string `yaml:"ignore"`
	WhitelistFile string   `yaml:"whitelist_file"`

	whitelist map[dot11.MAC]struct{}
}

// ScanConfig represents channel hopping configuration
type ScanConfig struct {
	Band        string        `yaml:"band"` // 2.4 | 5 | all
	Channels2G  []int         `yaml:"channels_2g"`
	Channels5G  []int         `yaml:"channels_5g"`
	HopInterval time.Duration `yaml:"hop_interval"`
	HopMode     string        `yaml:"hop_mode"` // sequential | random
}

// CaptureConfig represents handshake capture configuration
type CaptureConfig struct {
	DeauthCount       int           `yaml:"deauth_count"`
	DeauthInterval    time.Duration `yaml:"deauth_interval"`
	DeauthRearm       time.Duration `yaml:"deauth_rearm"`
	Timeout           time.Duration `yaml:"timeout"`
	AutoStop          *bool         `yaml:"auto_stop"`
	SessionInactivity time.Duration `yaml:"session_inactivity"`
	TrackAll          *bool         `yaml:"track_all"`
}

// StoreConfig represents entity store tuning
type StoreConfig struct {
	SignalAlpha   float64 `yaml:"signal_alpha"`
	ProbeLogLimit int     `yaml:"probe_log_limit"`
}

// ControllerConfig represents control loop tuning
type ControllerConfig struct {
	QueueSize         int           `yaml:"queue_size"`
	NotifyBuffer      int           `yaml:"notify_buffer"`
	TxRetries         int           `yaml:"tx_retries"`
	DriverErrorBudget int           `yaml:"driver_error_budget"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	ListingLimit      int           `yaml:"listing_limit"`
}

// AutostartConfig represents the boot mode
type AutostartConfig struct {
	Enabled bool   `yaml:"enabled"`
	Mode    string `yaml:"mode"`
}

// APIConfig represents API configuration
type APIConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	StaticDir      string   `yaml:"static_dir"`
	RateLimit      float64  `yaml:"rate_limit"` // transmit commands per second
	RateBurst      int      `yaml:"rate_burst"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AuthConfig represents API authentication
type AuthConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Token           string        `yaml:"token"`
	TokenHash       string        `yaml:"token_hash"`
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // sqlite3 | postgres
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	SyncInterval    time.Duration `yaml:"sync_interval"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	ClientName        string        `yaml:"client_name"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	SubjectPrefix     string        `yaml:"subject_prefix"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// MQTTConfig represents MQTT forwarding
type MQTTConfig struct {
	Enabled      bool   `yaml:"enabled"`
	BrokerURL    string `yaml:"broker_url"`
	ClientID     string `yaml:"client_id"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	TopicPattern string `yaml:"topic_pattern"`
	QoS          byte   `yaml:"qos"`
	TLS          bool   `yaml:"tls"`
}

// WebhookConfig represents HTTP forwarding
type WebhookConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
	Kinds   []string          `yaml:"kinds"`
}

// MetricsConfig represents prometheus exposition
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and defaults, then validates
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply environment overrides
	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if err := cfg.Targets.loadWhitelist(); err != nil {
		return nil, fmt.Errorf("load whitelist: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if level := os.Getenv(EnvPrefix + "LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}

	if iface := os.Getenv(EnvPrefix + "INTERFACE"); iface != "" {
		c.Radio.Interface = iface
	}

	if dsn := os.Getenv(EnvPrefix + "DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if natsURL := os.Getenv(EnvPrefix + "NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if secret := os.Getenv(EnvPrefix + "JWT_SECRET"); secret != "" {
		c.Auth.Secret = secret
	}

	if token := os.Getenv(EnvPrefix + "API_TOKEN"); token != "" {
		c.Auth.Token = token
		c.Auth.Enabled = true
	}

	if mode := os.Getenv(EnvPrefix + "MODE"); mode != "" {
		c.Autostart.Mode = mode
		c.Autostart.Enabled = true
	}
}

func (c *Config) setDefaults() {
	if c.Device.Name == "" {
		c.Device.Name = "shadow"
	}
	if c.Device.Version == "" {
		c.Device.Version = "0.1.0"
	}

	c.setDefaultRadio()
	c.setDefaultScan()
	c.setDefaultCapture()
	c.setDefaultController()

	if c.Store.SignalAlpha == 0 {
		c.Store.SignalAlpha = 0.3
	}
	if c.Store.ProbeLogLimit == 0 {
		c.Store.ProbeLogLimit = 10000
	}

	if c.Autostart.Mode == "" {
		c.Autostart.Mode = "passive"
	}

	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.RateLimit == 0 {
		c.API.RateLimit = 1
	}
	if c.API.RateBurst == 0 {
		c.API.RateBurst = 3
	}
	if len(c.API.AllowedOrigins) == 0 {
		c.API.AllowedOrigins = []string{"*"}
	}

	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL == 0 {
		c.Auth.RefreshTokenTTL = 24 * time.Hour
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 4
	}
	if c.Database.SyncInterval == 0 {
		c.Database.SyncInterval = 30 * time.Second
	}

	if c.NATS.ClientName == "" {
		c.NATS.ClientName = c.Device.Name
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "shadow"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}

	if c.MQTT.TopicPattern == "" {
		c.MQTT.TopicPattern = "shadow/{device}/{kind}"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "shadow-" + c.Device.Name
	}

	if c.Webhook.Timeout == 0 {
		c.Webhook.Timeout = 10 * time.Second
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) setDefaultRadio() {
	if c.Radio.Interface == "" {
		c.Radio.Interface = "wlan0mon"
	}
	if c.Radio.Source == "" {
		c.Radio.Source = "live"
	}
	if c.Radio.SnapLen == 0 {
		c.Radio.SnapLen = 2048
	}
	if c.Radio.FrameBuffer == 0 {
		c.Radio.FrameBuffer = 1024
	}
}

func (c *Config) setDefaultScan() {
	if c.Scan.Band == "" {
		c.Scan.Band = "2.4"
	}
	if len(c.Scan.Channels2G) == 0 {
		c.Scan.Channels2G = []int{1, 6, 11}
	}
	if len(c.Scan.Channels5G) == 0 {
		c.Scan.Channels5G = []int{36, 40, 44, 48}
	}
	if c.Scan.HopInterval == 0 {
		c.Scan.HopInterval = 500 * time.Millisecond
	}
	if c.Scan.HopMode == "" {
		c.Scan.HopMode = "sequential"
	}
}

func (c *Config) setDefaultCapture() {
	if c.Capture.DeauthCount == 0 {
		c.Capture.DeauthCount = 5
	}
	if c.Capture.DeauthInterval == 0 {
		c.Capture.DeauthInterval = time.Second
	}
	if c.Capture.Timeout == 0 {
		c.Capture.Timeout = 120 * time.Second
	}
	if c.Capture.AutoStop == nil {
		enabled := true
		c.Capture.AutoStop = &enabled
	}
	if c.Capture.SessionInactivity == 0 {
		c.Capture.SessionInactivity = 30 * time.Second
	}
	if c.Capture.TrackAll == nil {
		enabled := true
		c.Capture.TrackAll = &enabled
	}
}

func (c *Config) setDefaultController() {
	if c.Controller.QueueSize == 0 {
		c.Controller.QueueSize = 4096
	}
	if c.Controller.NotifyBuffer == 0 {
		c.Controller.NotifyBuffer = 256
	}
	if c.Controller.TxRetries == 0 {
		c.Controller.TxRetries = 3
	}
	if c.Controller.DriverErrorBudget == 0 {
		c.Controller.DriverErrorBudget = 5
	}
	if c.Controller.SnapshotInterval == 0 {
		c.Controller.SnapshotInterval = 250 * time.Millisecond
	}
	if c.Controller.SweepInterval == 0 {
		c.Controller.SweepInterval = 5 * time.Second
	}
	if c.Controller.ListingLimit == 0 {
		c.Controller.ListingLimit = 100
	}
}

func (c *Config) validate() error {
	switch c.Radio.Source {
	case "live":
	case "file":
		if c.Radio.ReplayFile == "" {
			return fmt.Errorf("radio.replay_file is required for file source")
		}
	default:
		return fmt.Errorf("invalid radio source: %s", c.Radio.Source)
	}

	switch c.Scan.Band {
	case "2.4", "5", "all":
	default:
		return fmt.Errorf("invalid scan band: %s", c.Scan.Band)
	}

	switch c.Scan.HopMode {
	case "sequential", "random":
	default:
		return fmt.Errorf("invalid hop mode: %s", c.Scan.HopMode)
	}

	for _, ch := range c.Channels() {
		if !dot11.ValidChannel(ch) {
			return fmt.Errorf("invalid channel: %d", ch)
		}
	}

	switch c.Autostart.Mode {
	case "passive", "capture", "drop":
	default:
		return fmt.Errorf("invalid autostart mode: %s", c.Autostart.Mode)
	}

	if c.Store.SignalAlpha <= 0 || c.Store.SignalAlpha > 1 {
		return fmt.Errorf("store.signal_alpha must be in (0, 1], got %v", c.Store.SignalAlpha)
	}

	if c.Capture.DeauthCount < 0 {
		return fmt.Errorf("capture.deauth_count must not be negative")
	}

	for _, b := range c.Targets.BSSIDs {
		if _, err := dot11.ParseMAC(b); err != nil {
			return fmt.Errorf("targets.bssids: %w", err)
		}
	}

	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Auth.Enabled {
		if c.Auth.Token == "" && c.Auth.TokenHash == "" {
			return fmt.Errorf("auth.token or auth.token_hash is required when auth is enabled")
		}
		if c.Auth.Secret == "" {
			return fmt.Errorf("auth.secret is required when auth is enabled")
		}
	}

	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt.broker_url is required when mqtt is enabled")
	}
	if c.Webhook.Enabled && c.Webhook.URL == "" {
		return fmt.Errorf("webhook.url is required when webhook is enabled")
	}

	return nil
}

// Channels returns the hop set for the configured band
func (c *Config) Channels() []int {
	switch c.Scan.Band {
	case "5":
		return append([]int(nil), c.Scan.Channels5G...)
	case "all":
		out := append([]int(nil), c.Scan.Channels2G...)
		return append(out, c.Scan.Channels5G...)
	}
	return append([]int(nil), c.Scan.Channels2G...)
}

// AutoStopEnabled reports capture.auto_stop
func (c *CaptureConfig) AutoStopEnabled() bool {
	return c.AutoStop == nil || *c.AutoStop
}

// TrackAllEnabled reports capture.track_all
func (c *CaptureConfig) TrackAllEnabled() bool {
	return c.TrackAll == nil || *c.TrackAll
}

// ShouldTarget reports whether a network may be attacked.
// Ignore substrings and the whitelist win; empty allow-lists allow everything.
func (t *TargetsConfig) ShouldTarget(ssid string, bssid dot11.MAC) bool {
	if _, ok := t.whitelist[bssid]; ok {
		return false
	}

	lower := strings.ToLower(ssid)
	for _, ignore := range t.Ignore {
		if ignore != "" && strings.Contains(lower, strings.ToLower(ignore)) {
			return false
		}
	}

	if len(t.SSIDs) == 0 && len(t.BSSIDs) == 0 {
		return true
	}

	for _, b := range t.BSSIDs {
		if m, err := dot11.ParseMAC(b); err == nil && m == bssid {
			return true
		}
	}

	for _, pattern := range t.SSIDs {
		if matchSSID(pattern, ssid) {
			return true
		}
	}

	return false
}

// Ignored reports whether the network matches the ignore list or whitelist
func (t *TargetsConfig) Ignored(ssid string, bssid dot11.MAC) bool {
	if _, ok := t.whitelist[bssid]; ok {
		return true
	}
	lower := strings.ToLower(ssid)
	for _, ignore := range t.Ignore {
		if ignore != "" && strings.Contains(lower, strings.ToLower(ignore)) {
			return true
		}
	}
	return false
}

// matchSSID supports a trailing "*" prefix wildcard
func matchSSID(pattern, ssid string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(ssid, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == ssid
}

// loadWhitelist reads one BSSID per line; blank lines and # comments are skipped
func (t *TargetsConfig) loadWhitelist() error {
	t.whitelist = make(map[dot11.MAC]struct{})
	if t.WhitelistFile == "" {
		return nil
	}

	f, err := os.Open(t.WhitelistFile)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", t.WhitelistFile).Msg("Whitelist file not found, continuing without it")
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m, err := dot11.ParseMAC(line)
		if err != nil {
			log.Warn().Str("line", line).Msg("Skipping invalid whitelist entry")
			continue
		}
		t.whitelist[m] = struct{}{}
	}

	log.Info().Int("count", len(t.whitelist)).Msg("Whitelist loaded")
	return scanner.Err()
}

// PrintConfigSummary prints the effective configuration
func (c *Config) PrintConfigSummary() {
	fmt.Printf("=== Shadow Configuration ===\n")
	fmt.Printf("Device: %s v%s\n", c.Device.Name, c.Device.Version)
	fmt.Printf("Radio: %s (%s)\n", c.Radio.Interface, c.Radio.Source)
	fmt.Printf("Channels: %v (band %s, %s every %s)\n", c.Channels(), c.Scan.Band, c.Scan.HopMode, c.Scan.HopInterval)
	fmt.Printf("Deauth: %d frames every %s, rearm %s\n", c.Capture.DeauthCount, c.Capture.DeauthInterval, c.Capture.DeauthRearm)
	fmt.Printf("Capture Timeout: %s (auto stop %v)\n", c.Capture.Timeout, c.Capture.AutoStopEnabled())
	fmt.Printf("Autostart: %v (%s)\n", c.Autostart.Enabled, c.Autostart.Mode)
	fmt.Printf("API: %s:%d (auth %v)\n", c.API.Host, c.API.Port, c.Auth.Enabled)
	if c.Database.DSN != "" {
		fmt.Printf("Database: %s\n", c.Database.Driver)
	}
	if c.NATS.URL != "" {
		fmt.Printf("NATS: %s (prefix %s)\n", c.NATS.URL, c.NATS.SubjectPrefix)
	}
	if c.MQTT.Enabled {
		fmt.Printf("MQTT: %s\n", c.MQTT.BrokerURL)
	}
	if c.Webhook.Enabled {
		fmt.Printf("Webhook: %s\n", c.Webhook.URL)
	}
	fmt.Printf("============================\n")
}
