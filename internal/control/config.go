package control

import "time"

const (
	// DefaultVerifyTimeout bounds interactive verification challenges: a
	// human is typing the code, so the agent should answer quickly.
	DefaultVerifyTimeout = 10 * time.Second

	// DefaultCallTimeout bounds relayed API calls (file ops, metrics).
	DefaultCallTimeout = 30 * time.Second
)

// Config carries the tunables of the control channel subsystem.
type Config struct {
	VerifyTimeout time.Duration `mapstructure:"verify_timeout"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
}

func (c Config) withDefaults() Config {
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = DefaultVerifyTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	return c
}
