package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const stateFileName = "agent-state.yaml"

// State is what the agent persists between runs: the identity the panel
// assigned it and the approval code it answers verification challenges with.
type State struct {
	NodeID       string    `yaml:"node_id"`
	Code         string    `yaml:"code"`
	RegisteredAt time.Time `yaml:"registered_at"`
}

func stateFilePath(dir string) string {
	return filepath.Join(dir, stateFileName)
}

// LoadState reads the persisted state. A missing file is not an error; it
// just means the agent has never completed registration.
func LoadState(dir string) (State, error) {
	data, err := os.ReadFile(stateFilePath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("read state file: %w", err)
	}

	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parse state file: %w", err)
	}
	return st, nil
}

// SaveState writes the state file. The file contains the approval code, so
// it is owner-readable only.
func SaveState(dir string, st State) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(stateFilePath(dir), data, 0600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}
