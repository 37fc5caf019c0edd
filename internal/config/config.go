// Package config provides application configuration management.
package config

import (
	"cmp"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
	"github.com/oszuidwest/zwfm-loudwatch/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort        = 8080
	DefaultThreshold      = 0.5
	DefaultMessage        = "Loud activity detected"
	DefaultSendHubBaseURL = "https://api.sendhub.com"
	DefaultProvider       = ProviderSendHub
	DefaultEventLogPath   = "events.jsonl"
	DefaultContactsPath   = "contacts.json"
	DefaultArchivePrefix  = "triggers/"
	DefaultZabbixPort     = 10051
	defaultEnvFileName    = ".env"
	environmentPrefix     = "LOUDWATCH_"
)

// Provider kinds.
const (
	ProviderSendHub = "sendhub"
	ProviderTwilio  = "twilio"
)

// ErrInvalidConfig is returned when the configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	FFmpegPath string `json:"ffmpeg_path"`                                 // Path to FFmpeg binary (empty = use PATH)
	Port       int    `json:"port" validate:"gte=0,lte=65535"`             // HTTP server port
	APIKey     string `json:"api_key" validate:"omitempty,min=16,max=128"` // X-API-Key for the HTTP API
}

// AudioConfig holds audio input device settings.
type AudioConfig struct {
	Input string `json:"input"` // Audio input device identifier
}

// DetectionConfig holds the activity detector parameters.
type DetectionConfig struct {
	Threshold          float64 `json:"threshold" validate:"gte=0,lte=1"`        // Amplitude threshold (linear RMS)
	TickMs             int64   `json:"tick_ms" validate:"gte=0,lte=10000"`      // Sampling interval
	SustainTicks       int     `json:"sustain_ticks" validate:"gte=0,lte=1000"` // Contiguous loud ticks to trigger
	ResetEnergyOnBreak bool    `json:"reset_energy_on_break"`                   // Clear energy when a run breaks
}

// WorkflowConfig holds the notification workflow defaults.
type WorkflowConfig struct {
	StatusClearMs int64  `json:"status_clear_ms" validate:"gte=0,lte=60000"` // Delivered status visibility
	Phone         string `json:"phone" validate:"omitempty,max=32"`          // Default contact phone
	Message       string `json:"message" validate:"omitempty,max=1600"`      // Default message text
}

// ProviderConfig selects the contact and messaging provider.
type ProviderConfig struct {
	Kind string `json:"kind" validate:"omitempty,oneof=sendhub twilio"`
}

// SendHubConfig holds SendHub API credentials.
type SendHubConfig struct {
	BaseURL  string `json:"base_url" validate:"omitempty,url"`
	Username string `json:"username"`
	APIKey   string `json:"api_key"`
}

// TwilioConfig holds Twilio credentials and the local contact directory.
type TwilioConfig struct {
	AccountSID   string `json:"account_sid"`
	AuthToken    string `json:"auth_token"`
	FromNumber   string `json:"from_number" validate:"omitempty,e164"`
	ContactsPath string `json:"contacts_path"`
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url" validate:"omitempty,url"` // Webhook URL for trigger alerts
}

// LogConfig holds log file notification settings.
type LogConfig struct {
	Path string `json:"path"` // Log file path for trigger events
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id"`                               // Azure AD tenant ID
	ClientID     string `json:"client_id"`                               // App registration client ID
	ClientSecret string `json:"client_secret"`                           // App registration client secret
	FromAddress  string `json:"from_address" validate:"omitempty,email"` // Shared mailbox sender address
	Recipients   string `json:"recipients"`                              // Comma-separated recipient addresses
}

// ZabbixConfig holds Zabbix trapper settings.
type ZabbixConfig struct {
	Server string `json:"server" validate:"omitempty,max=253"` // Zabbix server or proxy
	Port   int    `json:"port" validate:"omitempty,gte=1,lte=65535"`
	Host   string `json:"host" validate:"omitempty,max=253"` // Monitored host name in Zabbix
	Key    string `json:"key" validate:"omitempty,max=256"`  // Trapper item key
}

// NotificationsConfig holds all alert channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook"`
	Log     LogConfig     `json:"log"`
	Email   EmailConfig   `json:"email"`
	Zabbix  ZabbixConfig  `json:"zabbix"`
}

// ArchiveConfig holds S3 settings for the trigger archive.
type ArchiveConfig struct {
	Endpoint        string `json:"endpoint" validate:"omitempty,url"` // Custom endpoint (MinIO, R2); empty = AWS
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	Prefix          string `json:"prefix"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

// EventLogConfig holds the event log location.
type EventLogConfig struct {
	Path string `json:"path"`
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system"`
	Audio         AudioConfig         `json:"audio"`
	Detection     DetectionConfig     `json:"detection"`
	Workflow      WorkflowConfig      `json:"workflow"`
	Provider      ProviderConfig      `json:"provider"`
	SendHub       SendHubConfig       `json:"sendhub"`
	Twilio        TwilioConfig        `json:"twilio"`
	Notifications NotificationsConfig `json:"notifications"`
	Archive       ArchiveConfig       `json:"archive"`
	EventLog      EventLogConfig      `json:"event_log"`

	mu       sync.RWMutex
	filePath string
	env      map[string]string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.applyDefaults()
	return c
}

// Load reads config from file, creating a default if none exists, then
// applies secret overrides from the environment and a sibling .env file.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.env = loadEnvironment(filepath.Join(filepath.Dir(c.filePath), defaultEnvFileName))

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		if c.System.APIKey == "" {
			key, err := GenerateAPIKey()
			if err != nil {
				return util.WrapError("generate API key", err)
			}
			c.System.APIKey = key
		}
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	return c.validate()
}

// loadEnvironment reads LOUDWATCH_* variables. Values from the process
// environment win over the .env file.
func loadEnvironment(envFile string) map[string]string {
	env := make(map[string]string)

	if fileVars, err := godotenv.Read(envFile); err == nil {
		for k, v := range fileVars {
			if strings.HasPrefix(k, environmentPrefix) {
				env[k] = v
			}
		}
	}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, environmentPrefix) && v != "" {
			env[k] = v
		}
	}
	return env
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("%w: %s fails %q (value %v)", ErrInvalidConfig, e.Namespace(), e.Tag(), e.Value())
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.EventLog.Path != "" {
		if err := util.ValidatePath("event_log.path", c.EventLog.Path); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	if c.Detection.Threshold == 0 {
		c.Detection.Threshold = DefaultThreshold
	}
	if c.Detection.TickMs == 0 {
		c.Detection.TickMs = types.DefaultTickDuration.Milliseconds()
	}
	if c.Detection.SustainTicks == 0 {
		c.Detection.SustainTicks = types.DefaultSustainTicks
	}
	if c.Workflow.StatusClearMs == 0 {
		c.Workflow.StatusClearMs = types.DefaultStatusClearDelay.Milliseconds()
	}
	if c.Workflow.Message == "" {
		c.Workflow.Message = DefaultMessage
	}
	if c.Provider.Kind == "" {
		c.Provider.Kind = DefaultProvider
	}
	if c.SendHub.BaseURL == "" {
		c.SendHub.BaseURL = DefaultSendHubBaseURL
	}
	if c.Twilio.ContactsPath == "" {
		c.Twilio.ContactsPath = DefaultContactsPath
	}
	if c.Archive.Prefix == "" {
		c.Archive.Prefix = DefaultArchivePrefix
	}
	if c.EventLog.Path == "" {
		c.EventLog.Path = DefaultEventLogPath
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// resolvePath makes relative paths relative to the config file directory.
func (c *Config) resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(filepath.Dir(c.filePath), path)
}

// secret returns the environment override for key, or fallback.
func (c *Config) secret(key, fallback string) string {
	return cmp.Or(c.env[environmentPrefix+key], fallback)
}

// --- Getters for individual settings ---

// AudioInput returns the configured audio input device.
func (c *Config) AudioInput() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Audio.Input
}

// FFmpegPath returns the configured FFmpeg binary path.
func (c *Config) FFmpegPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.FFmpegPath
}

// APIKey returns the key required by the HTTP API.
func (c *Config) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.secret("API_KEY", c.System.APIKey)
}

// GraphConfig returns a copy of the current Graph/Email configuration.
func (c *Config) GraphConfig() types.GraphConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.GraphConfig{
		TenantID:     c.Notifications.Email.TenantID,
		ClientID:     c.Notifications.Email.ClientID,
		ClientSecret: c.secret("GRAPH_CLIENT_SECRET", c.Notifications.Email.ClientSecret),
		FromAddress:  c.Notifications.Email.FromAddress,
		Recipients:   c.Notifications.Email.Recipients,
	}
}

// --- Setters for individual settings ---

// SetAudioInput updates the audio input device and saves the configuration.
func (c *Config) SetAudioInput(input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Input = input
	return c.saveLocked()
}

// SetThreshold updates the default detection threshold and saves the configuration.
func (c *Config) SetThreshold(threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("%w: threshold must be between 0 and 1", ErrInvalidConfig)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Detection.Threshold = threshold
	return c.saveLocked()
}

// SetWorkflowDefaults updates the default phone and message and saves the configuration.
func (c *Config) SetWorkflowDefaults(phone, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Workflow.Phone = phone
	if message != "" {
		c.Workflow.Message = message
	}
	return c.saveLocked()
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Webhook.URL = url
	return c.saveLocked()
}

// SetLogPath updates the log file path and saves the configuration.
func (c *Config) SetLogPath(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Log.Path = path
	return c.saveLocked()
}

// SetZabbixConfig updates the Zabbix trapper settings and saves the configuration.
func (c *Config) SetZabbixConfig(server string, port int, host, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Zabbix = ZabbixConfig{Server: server, Port: port, Host: host, Key: key}
	return c.saveLocked()
}

// SetGraphConfig updates all Microsoft Graph/Email configuration fields and saves.
func (c *Config) SetGraphConfig(tenantID, clientID, clientSecret, fromAddress, recipients string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Email.TenantID = tenantID
	c.Notifications.Email.ClientID = clientID
	c.Notifications.Email.ClientSecret = clientSecret
	c.Notifications.Email.FromAddress = fromAddress
	c.Notifications.Email.Recipients = recipients
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values with defaults
// and environment overrides applied.
type Snapshot struct {
	// System
	WebPort    int
	APIKey     string
	FFmpegPath string

	// Audio
	AudioInput string

	// Detection
	Threshold          float64
	Tick               time.Duration
	SustainTicks       int
	ResetEnergyOnBreak bool

	// Workflow
	StatusClearDelay time.Duration
	Phone            string
	Message          string

	// Provider
	Provider           string
	SendHubBaseURL     string
	SendHubUsername    string
	SendHubAPIKey      string
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioFromNumber   string
	TwilioContactsPath string

	// Notifications
	WebhookURL        string
	LogPath           string
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphFromAddress  string
	GraphRecipients   string
	ZabbixServer      string
	ZabbixPort        int
	ZabbixHost        string
	ZabbixKey         string

	// Archive
	ArchiveEndpoint        string
	ArchiveRegion          string
	ArchiveBucket          string
	ArchivePrefix          string
	ArchiveAccessKeyID     string
	ArchiveSecretAccessKey string

	// Event log
	EventLogPath string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		WebPort:    cmp.Or(c.System.Port, DefaultWebPort),
		APIKey:     c.secret("API_KEY", c.System.APIKey),
		FFmpegPath: c.System.FFmpegPath,

		AudioInput: c.Audio.Input,

		Threshold:          c.Detection.Threshold,
		Tick:               time.Duration(cmp.Or(c.Detection.TickMs, types.DefaultTickDuration.Milliseconds())) * time.Millisecond,
		SustainTicks:       cmp.Or(c.Detection.SustainTicks, types.DefaultSustainTicks),
		ResetEnergyOnBreak: c.Detection.ResetEnergyOnBreak,

		StatusClearDelay: time.Duration(cmp.Or(c.Workflow.StatusClearMs, types.DefaultStatusClearDelay.Milliseconds())) * time.Millisecond,
		Phone:            c.Workflow.Phone,
		Message:          cmp.Or(c.Workflow.Message, DefaultMessage),

		Provider:           cmp.Or(c.Provider.Kind, DefaultProvider),
		SendHubBaseURL:     cmp.Or(c.SendHub.BaseURL, DefaultSendHubBaseURL),
		SendHubUsername:    c.secret("SENDHUB_USERNAME", c.SendHub.Username),
		SendHubAPIKey:      c.secret("SENDHUB_API_KEY", c.SendHub.APIKey),
		TwilioAccountSID:   c.secret("TWILIO_ACCOUNT_SID", c.Twilio.AccountSID),
		TwilioAuthToken:    c.secret("TWILIO_AUTH_TOKEN", c.Twilio.AuthToken),
		TwilioFromNumber:   c.secret("TWILIO_FROM_NUMBER", c.Twilio.FromNumber),
		TwilioContactsPath: c.resolvePath(cmp.Or(c.Twilio.ContactsPath, DefaultContactsPath)),

		WebhookURL:        c.Notifications.Webhook.URL,
		LogPath:           c.resolvePath(c.Notifications.Log.Path),
		GraphTenantID:     c.Notifications.Email.TenantID,
		GraphClientID:     c.Notifications.Email.ClientID,
		GraphClientSecret: c.secret("GRAPH_CLIENT_SECRET", c.Notifications.Email.ClientSecret),
		GraphFromAddress:  c.Notifications.Email.FromAddress,
		GraphRecipients:   c.Notifications.Email.Recipients,
		ZabbixServer:      c.Notifications.Zabbix.Server,
		ZabbixPort:        cmp.Or(c.Notifications.Zabbix.Port, DefaultZabbixPort),
		ZabbixHost:        c.Notifications.Zabbix.Host,
		ZabbixKey:         c.Notifications.Zabbix.Key,

		ArchiveEndpoint:        c.Archive.Endpoint,
		ArchiveRegion:          c.Archive.Region,
		ArchiveBucket:          c.Archive.Bucket,
		ArchivePrefix:          cmp.Or(c.Archive.Prefix, DefaultArchivePrefix),
		ArchiveAccessKeyID:     c.secret("S3_ACCESS_KEY_ID", c.Archive.AccessKeyID),
		ArchiveSecretAccessKey: c.secret("S3_SECRET_ACCESS_KEY", c.Archive.SecretAccessKey),

		EventLogPath: c.resolvePath(cmp.Or(c.EventLog.Path, DefaultEventLogPath)),
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	return util.IsConfigured(s.GraphTenantID, s.GraphClientID, s.GraphClientSecret,
		s.GraphFromAddress, s.GraphRecipients)
}

// HasLogPath reports whether a log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}

// HasZabbix reports whether Zabbix trapper alerts are configured.
func (s *Snapshot) HasZabbix() bool {
	return util.IsConfigured(s.ZabbixServer, s.ZabbixHost, s.ZabbixKey)
}

// HasArchive reports whether the S3 trigger archive is configured.
func (s *Snapshot) HasArchive() bool {
	return util.IsConfigured(s.ArchiveBucket, s.ArchiveAccessKeyID, s.ArchiveSecretAccessKey)
}

// HasProviderCredentials reports whether the selected provider has credentials.
func (s *Snapshot) HasProviderCredentials() bool {
	switch s.Provider {
	case ProviderTwilio:
		return util.IsConfigured(s.TwilioAccountSID, s.TwilioAuthToken, s.TwilioFromNumber)
	default:
		return util.IsConfigured(s.SendHubUsername, s.SendHubAPIKey)
	}
}

// GraphConfig returns the Graph settings from the snapshot.
func (s *Snapshot) GraphConfig() *types.GraphConfig {
	return &types.GraphConfig{
		TenantID:     s.GraphTenantID,
		ClientID:     s.GraphClientID,
		ClientSecret: s.GraphClientSecret,
		FromAddress:  s.GraphFromAddress,
		Recipients:   s.GraphRecipients,
	}
}

// --- Utility functions ---

// GenerateAPIKey generates a new random 32-character alphanumeric API key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}
