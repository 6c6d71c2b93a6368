package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required,numeric"`
	User     string `validate:"required"`
	Password string
	DBName   string `validate:"required"`
	SSLMode  string `validate:"oneof=disable require verify-ca verify-full"`
}

// DSN returns the gorm/pgx connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// KafkaConfig holds broker settings.
type KafkaConfig struct {
	Brokers     []string `validate:"required,min=1,dive,hostname_port"`
	GroupPrefix string
}

// RoutingConfig holds directions API settings.
type RoutingConfig struct {
	BaseURL string        `validate:"required,url"`
	APIKey  string
	Profile string        `validate:"required"`
	Timeout time.Duration `validate:"gt=0"`
}

// GeocoderConfig selects the destination search backend. Both fields are optional.
type GeocoderConfig struct {
	BaseURL       string `validate:"omitempty,url"`
	GazetteerFile string
}

// LocationConfig holds device feed settings.
type LocationConfig struct {
	MinDistanceMeters float64       `validate:"gt=0"`
	PromptTimeout     time.Duration `validate:"gt=0"`
}

// ServiceConfig holds all configuration for the live tracking service.
type ServiceConfig struct {
	Port           string `validate:"required"`
	AppEnv         string `validate:"oneof=development staging production test"`
	DBConfig       DatabaseConfig
	KafkaConfig    KafkaConfig
	RoutingConfig  RoutingConfig
	GeocoderConfig GeocoderConfig
	LocationConfig LocationConfig
}

const envPrefix = "LIVETRACK"

// Load reads configuration from a .env file (if present) and LIVETRACK_* environment variables.
func Load() (*ServiceConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVICE_PORT", ":8090")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "kilat_livetrack")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_GROUP_PREFIX", "kilat-")
	v.SetDefault("ROUTING_BASE_URL", "https://api.openrouteservice.org")
	v.SetDefault("ROUTING_PROFILE", "driving-car")
	v.SetDefault("ROUTING_TIMEOUT", "10s")
	v.SetDefault("LOCATION_MIN_DISTANCE_METERS", 1.0)
	v.SetDefault("LOCATION_PROMPT_TIMEOUT", "30s")
}

func fromViper(v *viper.Viper) (*ServiceConfig, error) {
	port := v.GetString("SERVICE_PORT")
	if port != "" && !strings.Contains(port, ":") {
		port = ":" + port
	}

	cfg := &ServiceConfig{
		Port:   port,
		AppEnv: v.GetString("APP_ENV"),
		DBConfig: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		KafkaConfig: KafkaConfig{
			Brokers:     splitList(v.GetString("KAFKA_BROKERS")),
			GroupPrefix: v.GetString("KAFKA_GROUP_PREFIX"),
		},
		RoutingConfig: RoutingConfig{
			BaseURL: v.GetString("ROUTING_BASE_URL"),
			APIKey:  v.GetString("ROUTING_API_KEY"),
			Profile: v.GetString("ROUTING_PROFILE"),
			Timeout: v.GetDuration("ROUTING_TIMEOUT"),
		},
		GeocoderConfig: GeocoderConfig{
			BaseURL:       v.GetString("GEOCODER_BASE_URL"),
			GazetteerFile: v.GetString("GAZETTEER_FILE"),
		},
		LocationConfig: LocationConfig{
			MinDistanceMeters: v.GetFloat64("LOCATION_MIN_DISTANCE_METERS"),
			PromptTimeout:     v.GetDuration("LOCATION_PROMPT_TIMEOUT"),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
