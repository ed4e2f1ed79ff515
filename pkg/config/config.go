package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	CRM        CRMConfig        `json:"crm"`
	Alerting   AlertingConfig   `json:"alerting"`
	Monitoring MonitoringConfig `json:"monitoring"`
	Logging    LoggingConfig    `json:"logging"`
	Tracing    TracingConfig    `json:"tracing"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	IdleTimeout    time.Duration `json:"idle_timeout"`
	AllowedOrigins []string      `json:"allowed_origins"`
	// TrustedProxies lists the proxy IPs or CIDRs whose X-Forwarded-For
	// header is honoured. Empty means the peer address is the client.
	TrustedProxies []string `json:"trusted_proxies"`
	// FormRatePerMinute and FormBurst throttle form submissions per client IP
	FormRatePerMinute int `json:"form_rate_per_minute"`
	FormBurst         int `json:"form_burst"`
}

// CRMConfig contains the helpdesk tenant and OAuth client configuration
type CRMConfig struct {
	AccountsURL       string        `json:"accounts_url"`
	APIBaseURL        string        `json:"api_base_url"`
	ClientID          string        `json:"client_id"`
	ClientSecret      string        `json:"-"`
	RefreshToken      string        `json:"-"`
	Scopes            []string      `json:"scopes"`
	OrgID             string        `json:"org_id"`
	DepartmentID      string        `json:"department_id"`
	AuthScheme        string        `json:"auth_scheme"`
	CustomFieldFormat string        `json:"custom_field_format"`
	RequestTimeout    time.Duration `json:"request_timeout"`
}

// AlertingConfig contains threshold, cooldown and alert-ticket settings
type AlertingConfig struct {
	Enabled                  bool          `json:"enabled"`
	Cooldown                 time.Duration `json:"cooldown"`
	ErrorRateThreshold       float64       `json:"error_rate_threshold"`
	SlowResponseThreshold    time.Duration `json:"slow_response_threshold"`
	RateLimitBreachThreshold int64         `json:"rate_limit_breach_threshold"`
	MemoryThreshold          float64       `json:"memory_threshold"`
	CPUThreshold             float64       `json:"cpu_threshold"`
	ContactEmail             string        `json:"contact_email"`
	ContactFirstName         string        `json:"contact_first_name"`
	ContactLastName          string        `json:"contact_last_name"`
	Environment              string        `json:"environment"`
	ServerName               string        `json:"server_name"`
}

// MonitoringConfig contains metrics aggregation settings
type MonitoringConfig struct {
	ResponseWindow         int           `json:"response_window"`
	ResourceSampleInterval time.Duration `json:"resource_sample_interval"`
	MetricsNamespace       string        `json:"metrics_namespace"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// TracingConfig contains OpenTelemetry exporter configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	hostname, _ := os.Hostname()

	config := &Config{
		Server: ServerConfig{
			Host:              getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			AllowedOrigins:    getEnvList("SERVER_ALLOWED_ORIGINS", []string{"*"}),
			TrustedProxies:    getEnvList("SERVER_TRUSTED_PROXIES", nil),
			FormRatePerMinute: getEnvInt("SERVER_FORM_RATE_PER_MINUTE", 10),
			FormBurst:         getEnvInt("SERVER_FORM_BURST", 5),
		},
		CRM: CRMConfig{
			AccountsURL:       getEnvString("CRM_ACCOUNTS_URL", "https://accounts.zoho.com/oauth/v2/token"),
			APIBaseURL:        getEnvString("CRM_API_BASE_URL", "https://desk.zoho.com/api/v1"),
			ClientID:          getEnvString("CRM_CLIENT_ID", ""),
			ClientSecret:      getEnvString("CRM_CLIENT_SECRET", ""),
			RefreshToken:      getEnvString("CRM_REFRESH_TOKEN", ""),
			Scopes:            getEnvList("CRM_SCOPES", nil),
			OrgID:             getEnvString("CRM_ORG_ID", ""),
			DepartmentID:      getEnvString("CRM_DEPARTMENT_ID", ""),
			AuthScheme:        getEnvString("CRM_AUTH_SCHEME", "Zoho-oauthtoken"),
			CustomFieldFormat: getEnvString("CRM_CUSTOM_FIELD_FORMAT", "named"),
			RequestTimeout:    getEnvDuration("CRM_REQUEST_TIMEOUT", 30*time.Second),
		},
		Alerting: AlertingConfig{
			Enabled:                  getEnvBool("ALERTS_ENABLED", true),
			Cooldown:                 getEnvDuration("ALERTS_COOLDOWN", 15*time.Minute),
			ErrorRateThreshold:       getEnvFloat("ALERTS_ERROR_RATE_THRESHOLD", 0.10),
			SlowResponseThreshold:    getEnvDuration("ALERTS_SLOW_RESPONSE_THRESHOLD", time.Second),
			RateLimitBreachThreshold: getEnvInt64("ALERTS_RATE_LIMIT_BREACH_THRESHOLD", 5),
			MemoryThreshold:          getEnvFloat("ALERTS_MEMORY_THRESHOLD", 0.90),
			CPUThreshold:             getEnvFloat("ALERTS_CPU_THRESHOLD", 0.80),
			ContactEmail:             getEnvString("ALERTS_CONTACT_EMAIL", "ops@localhost"),
			ContactFirstName:         getEnvString("ALERTS_CONTACT_FIRST_NAME", "System"),
			ContactLastName:          getEnvString("ALERTS_CONTACT_LAST_NAME", "Monitor"),
			Environment:              getEnvString("APP_ENV", "development"),
			ServerName:               getEnvString("SERVER_NAME", hostname),
		},
		Monitoring: MonitoringConfig{
			ResponseWindow:         getEnvInt("MONITORING_RESPONSE_WINDOW", 100),
			ResourceSampleInterval: getEnvDuration("MONITORING_RESOURCE_INTERVAL", time.Minute),
			MetricsNamespace:       getEnvString("MONITORING_METRICS_NAMESPACE", "helpdesk_relay"),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("TRACING_JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SamplingRate:   getEnvFloat("TRACING_SAMPLING_RATE", 1.0),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"CRM_CLIENT_ID", c.CRM.ClientID},
		{"CRM_CLIENT_SECRET", c.CRM.ClientSecret},
		{"CRM_REFRESH_TOKEN", c.CRM.RefreshToken},
		{"CRM_ORG_ID", c.CRM.OrgID},
		{"CRM_DEPARTMENT_ID", c.CRM.DepartmentID},
	}

	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}

	for _, proxy := range c.Server.TrustedProxies {
		if net.ParseIP(proxy) == nil {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid trusted proxy: %s", proxy)
			}
		}
	}

	switch c.CRM.CustomFieldFormat {
	case "named", "cf":
	default:
		return fmt.Errorf("unsupported custom field format: %s", c.CRM.CustomFieldFormat)
	}

	if c.Monitoring.ResponseWindow <= 0 {
		return fmt.Errorf("response window must be positive")
	}

	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alert cooldown must not be negative")
	}

	return nil
}

// Address returns the HTTP listen address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
