package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	TargetTypePanel     = "panel"
	TargetTypeOAuthAPI  = "oauthapi"
	TargetTypeWSChannel = "wschannel"
)

// TargetsFile is the YAML document listing the external targets sessions are kept against.
type TargetsFile struct {
	Targets []TargetSpec `yaml:"targets"`
}

// TargetSpec declares one target. Settings is decoded by the adapter named in Type.
type TargetSpec struct {
	ID            string        `yaml:"id"`
	Type          string        `yaml:"type"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	WarmUp        bool          `yaml:"warm_up"`
	Recovery      *RecoverySpec `yaml:"recovery,omitempty"`
	Settings      yaml.Node     `yaml:"settings"`
}

// RecoverySpec overrides the global recovery budget for a single target.
type RecoverySpec struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// DecodeSettings unmarshals the adapter specific block into out.
func (t TargetSpec) DecodeSettings(out any) error {
	if t.Settings.Kind == 0 {
		return nil
	}
	if err := t.Settings.Decode(out); err != nil {
		return fmt.Errorf("[TargetSpec.DecodeSettings] target %s: %w", t.ID, err)
	}
	return nil
}

// LoadTargets reads and validates the targets file at path.
func LoadTargets(path string) ([]TargetSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("[LoadTargets] read %s: %w", path, err)
	}
	return ParseTargets(data)
}

func ParseTargets(data []byte) ([]TargetSpec, error) {
	var file TargetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("[ParseTargets] yaml: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Targets))
	for i, t := range file.Targets {
		if strings.TrimSpace(t.ID) == "" {
			return nil, fmt.Errorf("[ParseTargets] target %d has no id", i)
		}
		switch t.Type {
		case TargetTypePanel, TargetTypeOAuthAPI, TargetTypeWSChannel:
		default:
			return nil, fmt.Errorf("[ParseTargets] target %s has unknown type %q", t.ID, t.Type)
		}
		id := strings.ToLower(t.ID)
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("[ParseTargets] duplicate target id %s", t.ID)
		}
		seen[id] = struct{}{}
	}
	return file.Targets, nil
}
