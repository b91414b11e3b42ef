package config

import "github.com/spf13/viper"

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		// Empty broker list disables event publishing.
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Auth struct {
		Secret string `mapstructure:"secret"`
		// Base URL of the permission service; empty means allow-all
		// (single-tenant deployments).
		PermissionURL string `mapstructure:"permissionUrl"`
	} `mapstructure:"auth"`
	Snapshot struct {
		QueueSize int `mapstructure:"queueSize"`
	} `mapstructure:"snapshot"`
	WS struct {
		AllowedOrigins []string `mapstructure:"allowedOrigins"`
		MaxConcurrent  int      `mapstructure:"maxConcurrent"`
	} `mapstructure:"ws"`
}

// Load reads docsync.yaml from the usual launch directories.
func Load() (*Config, error) {
	cfg := &Config{}
	v := viper.New()
	v.SetConfigName("docsync")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetDefault("running.port", 8080)
	v.SetDefault("snapshot.queueSize", 1024)
	v.SetDefault("ws.maxConcurrent", 256)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
