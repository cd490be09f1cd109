package agent

type Config struct {
	// ServerURL is the panel's websocket base, e.g. ws://panel.example.com:8080.
	ServerURL string `mapstructure:"server_url"`
	// StateDir holds the agent keypair, derived server id and approval state.
	StateDir string `mapstructure:"state_dir"`

	// Connection details reported during registration.
	Port     int    `mapstructure:"port"`
	SFTPPort int    `mapstructure:"sftp_port"`
	Username string `mapstructure:"username"`
}

func (c Config) withDefaults() Config {
	if c.StateDir == "" {
		c.StateDir = "."
	}
	if c.Port == 0 {
		c.Port = 22
	}
	if c.Username == "" {
		c.Username = "root"
	}
	return c
}
