package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "PNCP"

	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "pncp_monitor.db"
	defaultLogLevel         = "info"
	defaultBaseURL          = "https://pncp.gov.br/api/consulta/v1"
	defaultMunicipalityCode = "3304706"
	defaultMunicipalityName = "Santo Antônio de Pádua - RJ"
	defaultRequestTimeout   = 30
	defaultRetryAttempts    = 3
	defaultPageSize         = 50
	defaultLookbackDays     = 7
	defaultSMTPHost         = "smtp.gmail.com"
	defaultSMTPPort         = 587
)

// AppConfig captures runtime configuration for the monitor service.
type AppConfig struct {
	HTTPAddress      string
	DatabasePath     string
	LogLevel         string
	RegistryBaseURL  string
	MunicipalityCode string
	MunicipalityName string
	RequestTimeout   time.Duration
	RetryAttempts    int
	PageSize         int
	LookbackDays     int
	CronToken        string
	SMTPHost         string
	SMTPPort         int
	SMTPSender       string
	SMTPPassword     string
	Recipients       []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("registry.base_url", defaultBaseURL)
	configViper.SetDefault("registry.timeout_seconds", defaultRequestTimeout)
	configViper.SetDefault("registry.retry_attempts", defaultRetryAttempts)
	configViper.SetDefault("registry.page_size", defaultPageSize)
	configViper.SetDefault("municipality.code", defaultMunicipalityCode)
	configViper.SetDefault("municipality.name", defaultMunicipalityName)
	configViper.SetDefault("monitor.lookback_days", defaultLookbackDays)
	configViper.SetDefault("cron.token", "")
	configViper.SetDefault("smtp.host", defaultSMTPHost)
	configViper.SetDefault("smtp.port", defaultSMTPPort)
	configViper.SetDefault("smtp.sender", "")
	configViper.SetDefault("smtp.password", "")
	configViper.SetDefault("notify.recipients", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		RegistryBaseURL:  configViper.GetString("registry.base_url"),
		MunicipalityCode: configViper.GetString("municipality.code"),
		MunicipalityName: configViper.GetString("municipality.name"),
		RequestTimeout:   time.Duration(configViper.GetInt("registry.timeout_seconds")) * time.Second,
		RetryAttempts:    configViper.GetInt("registry.retry_attempts"),
		PageSize:         configViper.GetInt("registry.page_size"),
		LookbackDays:     configViper.GetInt("monitor.lookback_days"),
		CronToken:        configViper.GetString("cron.token"),
		SMTPHost:         configViper.GetString("smtp.host"),
		SMTPPort:         configViper.GetInt("smtp.port"),
		SMTPSender:       configViper.GetString("smtp.sender"),
		SMTPPassword:     configViper.GetString("smtp.password"),
		Recipients:       splitRecipients(configViper.GetString("notify.recipients")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// splitRecipients parses a comma-separated recipient list, dropping blanks.
func splitRecipients(raw string) []string {
	parts := strings.Split(raw, ",")
	recipients := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			recipients = append(recipients, trimmed)
		}
	}
	return recipients
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.RegistryBaseURL) == "" {
		return fmt.Errorf("registry.base_url is required")
	}
	if len(strings.TrimSpace(c.MunicipalityCode)) != 7 {
		return fmt.Errorf("municipality.code must be a 7-digit IBGE code")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("registry.retry_attempts must be at least 1")
	}
	if c.PageSize < 1 {
		return fmt.Errorf("registry.page_size must be positive")
	}
	if c.LookbackDays < 1 {
		return fmt.Errorf("monitor.lookback_days must be positive")
	}
	return nil
}
