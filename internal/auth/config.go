package auth

import "time"

type Config struct {
	// JWTSecret signs operator session tokens (HS256).
	JWTSecret string `mapstructure:"jwt_secret"`
	// TokenExpiry bounds how long an issued token stays valid.
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
	// AdminUsername and AdminPasswordHash are the operator credentials.
	// The hash is bcrypt, generated out of band.
	AdminUsername     string `mapstructure:"admin_username"`
	AdminPasswordHash string `mapstructure:"admin_password_hash"`
}

func (c Config) withDefaults() Config {
	if c.TokenExpiry == 0 {
		c.TokenExpiry = 24 * time.Hour
	}
	if c.AdminUsername == "" {
		c.AdminUsername = "admin"
	}
	return c
}
