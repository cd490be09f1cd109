package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/api/http"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/auth"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/control"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/db"
)

type Config struct {
	Log      LogConfig
	Http     http.Config
	Db       db.Config
	Auth     auth.Config
	Control  control.Config
	StateDir string `mapstructure:"state_dir"`
}

var config Config

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/panel-server")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("db.url", "DATABASE_URL")
	_ = viper.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("auth.admin_password_hash", "ADMIN_PASSWORD_HASH")

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
	}

	if config.StateDir == "" {
		config.StateDir = "./state"
	}

	// Initialize logger with configured log level
	initLogger(config.Log.Level)

	// Pretty print config as JSON (only at DEBUG level)
	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		configJSON, err := json.MarshalIndent(config, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}
