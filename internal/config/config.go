package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config представляет структуру конфигурации для приложения.
type Config struct {
	App struct {
		Port string `mapstructure:"port"`
		Env  string `mapstructure:"env"`
	} `mapstructure:"app"`
	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Compute struct {
		BaseURL  string        `mapstructure:"baseUrl"`
		APIToken string        `mapstructure:"apiToken"`
		Timeout  time.Duration `mapstructure:"timeout"`
	} `mapstructure:"compute"`
	Billing struct {
		GraceDays         int           `mapstructure:"graceDays"`
		ReinstatementFee  string        `mapstructure:"reinstatementFee"`
		ReconcileInterval time.Duration `mapstructure:"reconcileInterval"`
		ReminderInterval  time.Duration `mapstructure:"reminderInterval"`
		ReconcileBuffer   time.Duration `mapstructure:"reconcileBuffer"`
	} `mapstructure:"billing"`
	Auth struct {
		JWTSecret string `mapstructure:"jwtSecret"`
	} `mapstructure:"auth"`
}

// ReinstatementFee возвращает реактивационный сбор как точное десятичное число;
// нечитаемое значение трактуется как ноль
func (c *Config) ReinstatementFee() decimal.Decimal {
	fee, err := decimal.NewFromString(c.Billing.ReinstatementFee)
	if err != nil {
		return decimal.Zero
	}
	return fee
}

// LoadConfig загружает конфигурацию из файла или переменных окружения.
func LoadConfig(path string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		err := godotenv.Load(path)
		if err != nil {
			return nil, err
		}
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetDefault("app.port", "8080")
	viper.SetDefault("billing.graceDays", 5)
	viper.SetDefault("billing.reinstatementFee", "0")
	viper.SetDefault("billing.reconcileInterval", 3*time.Minute)
	viper.SetDefault("billing.reminderInterval", time.Minute)
	viper.SetDefault("billing.reconcileBuffer", time.Minute)

	viper.AutomaticEnv() // Чтение переменных окружения

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
