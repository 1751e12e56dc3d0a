// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Security   SecurityConfig   `mapstructure:"security"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Link       LinkConfig       `mapstructure:"link"`
	Transports TransportsConfig `mapstructure:"transports"`
	Peers      []PeerConfig     `mapstructure:"peers"`
	Commands   []ActuatorConfig `mapstructure:"commands"`
	App        AppConfig        `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host" validate:"required"`
	Port         string        `mapstructure:"port" validate:"required"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLS          TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// DatabaseConfig represents database configuration.
// The database is optional; when disabled the trusted peers come from the
// config file or BlueZ and the event log is kept in memory only.
type DatabaseConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	DBName         string        `mapstructure:"dbname"`
	SSLMode        string        `mapstructure:"sslmode"`
	MaxOpenConns   int           `mapstructure:"max_open_conns"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	MigrationsPath string        `mapstructure:"migrations_path"`
	PersistLog     bool          `mapstructure:"persist_log"`
	LogRetention   time.Duration `mapstructure:"log_retention"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	// AllowedOrigins lists browser origins allowed to drive the link.
	// An entry ending in "*" matches by prefix, e.g. "http://192.168.1.*".
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// OriginAllowed reports whether a browser origin may call the API or open
// the log feed. No configured origins, or no Origin header, allows the call.
func (s *SecurityConfig) OriginAllowed(origin string) bool {
	if len(s.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	for _, allowed := range s.AllowedOrigins {
		if prefix, ok := strings.CutSuffix(allowed, "*"); ok {
			if strings.HasPrefix(origin, prefix) {
				return true
			}
			continue
		}
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"required"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// LinkConfig represents the controller settings for the single link
type LinkConfig struct {
	PeerName       string        `mapstructure:"peer_name" validate:"required"`
	Transport      string        `mapstructure:"transport" validate:"required"`
	Registry       []string      `mapstructure:"registry"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
	ReadBufferSize int           `mapstructure:"read_buffer_size"`
	MaxLineLength  int           `mapstructure:"max_line_length"`
	QueueSize      int           `mapstructure:"queue_size"`
}

// TransportsConfig holds per-transport settings
type TransportsConfig struct {
	Serial SerialTransportConfig `mapstructure:"serial"`
	RFCOMM RFCOMMTransportConfig `mapstructure:"rfcomm"`
	TCP    TCPTransportConfig    `mapstructure:"tcp"`
	USB    USBTransportConfig    `mapstructure:"usb"`
}

// SerialTransportConfig represents serial port configuration
type SerialTransportConfig struct {
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	StopBits int    `mapstructure:"stop_bits"`
	Parity   string `mapstructure:"parity"`
}

// RFCOMMTransportConfig represents BlueZ RFCOMM configuration
type RFCOMMTransportConfig struct {
	Adapter     string `mapstructure:"adapter"`
	ServiceUUID string `mapstructure:"service_uuid"`
}

// TCPTransportConfig represents serial-over-TCP bridge configuration
type TCPTransportConfig struct {
	KeepAlive    bool          `mapstructure:"keep_alive"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// USBTransportConfig represents USB bulk bridge configuration
type USBTransportConfig struct {
	Config      int `mapstructure:"config"`
	Interface   int `mapstructure:"interface"`
	AltSetting  int `mapstructure:"alt_setting"`
	InEndpoint  int `mapstructure:"in_endpoint"`
	OutEndpoint int `mapstructure:"out_endpoint"`
}

// PeerConfig describes a trusted peer listed in the config file
type PeerConfig struct {
	Name      string `mapstructure:"name"`
	Address   string `mapstructure:"address"`
	Transport string `mapstructure:"transport"`
	Channel   uint8  `mapstructure:"channel"`
}

// ActuatorConfig groups the command tokens of one named actuator
type ActuatorConfig struct {
	Actuator string            `mapstructure:"actuator"`
	Tokens   map[string]string `mapstructure:"tokens"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required"`
	Debug       bool   `mapstructure:"debug"`
}

// Load loads configuration from file and environment variables.
// A missing config file is not an error; defaults and environment apply.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/etc/link-service"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	// Environment variable support
	v.SetEnvPrefix("LINK_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

// LoadFile loads configuration from an explicit file path
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("LINK_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.tls.enabled", false)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "link_service")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.persist_log", true)
	v.SetDefault("database.log_retention", "720h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Link defaults
	v.SetDefault("link.peer_name", "HC-05")
	v.SetDefault("link.transport", "serial")
	v.SetDefault("link.registry", []string{"config"})
	v.SetDefault("link.connect_timeout", "20s")
	v.SetDefault("link.stop_timeout", "2s")
	v.SetDefault("link.read_buffer_size", 1024)
	v.SetDefault("link.max_line_length", 4096)
	v.SetDefault("link.queue_size", 16)

	// Transport defaults
	v.SetDefault("transports.serial.baud_rate", 9600)
	v.SetDefault("transports.serial.data_bits", 8)
	v.SetDefault("transports.serial.stop_bits", 1)
	v.SetDefault("transports.serial.parity", "none")

	v.SetDefault("transports.rfcomm.adapter", "hci0")
	v.SetDefault("transports.rfcomm.service_uuid", "00001101-0000-1000-8000-00805f9b34fb")

	v.SetDefault("transports.tcp.keep_alive", true)
	v.SetDefault("transports.tcp.write_timeout", "5s")

	v.SetDefault("transports.usb.config", 1)
	v.SetDefault("transports.usb.interface", 0)
	v.SetDefault("transports.usb.alt_setting", 0)
	v.SetDefault("transports.usb.in_endpoint", 0x81)
	v.SetDefault("transports.usb.out_endpoint", 0x01)

	// App defaults
	v.SetDefault("app.name", "link-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if config.Link.PeerName == "" {
		return fmt.Errorf("link.peer_name is required")
	}
	if config.Database.Enabled && config.Database.Host == "" {
		return fmt.Errorf("database.host is required when database.enabled is set")
	}

	if !contains([]string{"serial", "rfcomm", "tcp", "usb"}, config.Link.Transport) {
		return fmt.Errorf("link.transport must be one of: serial, rfcomm, tcp, usb")
	}

	for _, r := range config.Link.Registry {
		if !contains([]string{"config", "bluez", "database"}, r) {
			return fmt.Errorf("link.registry entries must be one of: config, bluez, database (got %q)", r)
		}
		if r == "database" && !config.Database.Enabled {
			return fmt.Errorf("link.registry uses database but database.enabled is false")
		}
	}

	if config.Link.StopTimeout <= 0 {
		return fmt.Errorf("link.stop_timeout must be positive")
	}
	if config.Link.ReadBufferSize <= 0 {
		return fmt.Errorf("link.read_buffer_size must be positive")
	}
	if config.Link.MaxLineLength < config.Link.ReadBufferSize {
		return fmt.Errorf("link.max_line_length must be at least link.read_buffer_size")
	}

	for i, p := range config.Peers {
		if p.Name == "" || p.Address == "" {
			return fmt.Errorf("peers[%d]: name and address are required", i)
		}
	}

	for i, a := range config.Commands {
		if a.Actuator == "" {
			return fmt.Errorf("commands[%d]: actuator is required", i)
		}
		for action, token := range a.Tokens {
			if token == "" || strings.ContainsAny(token, "\r\n") {
				return fmt.Errorf("commands[%d].tokens.%s: token must be a single non-empty line", i, action)
			}
		}
	}

	validEnvs := []string{"development", "staging", "production", "test"}
	if !contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// DSN returns the lib/pq connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}
