package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type Service struct {
	config Config
}

func NewService(config Config) *Service {
	return &Service{config: config.withDefaults()}
}

// Login checks the operator credentials and returns a signed session token.
func (s *Service) Login(username, password string) (string, error) {
	if username != s.config.AdminUsername {
		return "", ErrInvalidCredentials
	}
	if !CheckPassword(password, s.config.AdminPasswordHash) {
		return "", ErrInvalidCredentials
	}

	token, err := GenerateToken(s.config, username)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

func (s *Service) Secret() string {
	return s.config.JWTSecret
}

// HashPassword generates a bcrypt hash from a plaintext password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password with a bcrypt hash
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
