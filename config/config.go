package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Game    GameConfig    `mapstructure:"game"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	// Addr is the TCP listen address for the newline-framed game protocol.
	Addr string `mapstructure:"addr"`
	// WSAddr serves the same protocol over websocket for browser clients.
	// Empty disables the websocket listener.
	WSAddr string `mapstructure:"ws_addr"`
	// MetricsAddr serves prometheus /metrics. Empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type GameConfig struct {
	MaxPlayers        int           `mapstructure:"max_players"`
	RoundDuration     time.Duration `mapstructure:"round_duration"`
	WorldWidth        float64       `mapstructure:"world_width"`
	WorldHeight       float64       `mapstructure:"world_height"`
	MaxFoods          int           `mapstructure:"max_foods"`
	PlayerRadius      float64       `mapstructure:"player_radius"`
	FoodRadius        float64       `mapstructure:"food_radius"`
	ScorePerFood      int           `mapstructure:"score_per_food"`
	BroadcastInterval time.Duration `mapstructure:"broadcast_interval"`
	CountdownInterval time.Duration `mapstructure:"countdown_interval"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// LoadConfig reads config.yaml from path if present and fills every missing
// key with the built-in defaults. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":12345")
	v.SetDefault("server.ws_addr", "")
	v.SetDefault("server.metrics_addr", "")

	v.SetDefault("game.max_players", 3)
	v.SetDefault("game.round_duration", 60*time.Second)
	v.SetDefault("game.world_width", 2400.0)
	v.SetDefault("game.world_height", 1600.0)
	v.SetDefault("game.max_foods", 50)
	v.SetDefault("game.player_radius", 30.0)
	v.SetDefault("game.food_radius", 20.0)
	v.SetDefault("game.score_per_food", 10)
	v.SetDefault("game.broadcast_interval", 50*time.Millisecond)
	v.SetDefault("game.countdown_interval", time.Second)

	v.SetDefault("logging.level", "info")
}
