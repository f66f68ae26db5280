package config

import (
	"github.com/spf13/viper"
)

// Config is the endpoint's settings, loaded from config.yaml (or defaults
// when absent), in the same viper/mapstructure shape the teacher used for
// its relay settings.
type Config struct {
	UDP struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"udp"`
	API struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"api"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	Cert struct {
		CommonName string   `mapstructure:"common_name"`
		ExtraNames []string `mapstructure:"extra_names"`
	} `mapstructure:"cert"`
	Cluster struct {
		Enabled  bool   `mapstructure:"enabled"`
		Address  string `mapstructure:"address"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Channel  string `mapstructure:"channel"`
	} `mapstructure:"cluster"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetDefault("udp.port", 4433)
	viper.SetDefault("api.port", 8080)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("cert.common_name", "localhost")
	viper.SetDefault("cert.extra_names", []string{"127.0.0.1"})
	viper.SetDefault("cluster.enabled", false)
	viper.SetDefault("cluster.channel", "quicd_owners")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
