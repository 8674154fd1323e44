// Package preset loads named goal templates: default budgets, tool chains,
// and evaluation thresholds. Presets are configuration data, not code; an
// external directory overrides the embedded defaults without a rebuild.
package preset

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
)

//go:embed presets/*.yaml
var embeddedPresets embed.FS

// Duration decodes YAML strings like "5m" into a time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("preset: bad duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Preset is one named goal template.
type Preset struct {
	Key        string            `yaml:"key"`
	Name       string            `yaml:"name"`
	Goal       string            `yaml:"goal"`
	Mode       model.Mode        `yaml:"mode"`
	DatasetKey string            `yaml:"dataset_key"`
	MaxSteps   int               `yaml:"max_steps"`
	WallClock  Duration          `yaml:"wall_clock"`
	Thresholds *model.Thresholds `yaml:"thresholds"`
}

// Budgets converts the preset limits into run budgets.
func (p Preset) Budgets() model.Budgets {
	return model.Budgets{MaxSteps: p.MaxSteps, WallClock: time.Duration(p.WallClock)}
}

// Store resolves presets by key, external directory first.
type Store struct {
	dir string
}

// NewStore creates a preset store. dir may be empty to use only the
// embedded defaults.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Load resolves key, preferring the external directory.
func (s *Store) Load(key string) (Preset, error) {
	if s.dir != "" {
		path := filepath.Join(s.dir, key+".yaml")
		if raw, err := os.ReadFile(path); err == nil {
			return parsePreset(key, raw)
		}
	}
	raw, err := embeddedPresets.ReadFile("presets/" + key + ".yaml")
	if err != nil {
		return Preset{}, fmt.Errorf("preset: unknown preset %q", key)
	}
	return parsePreset(key, raw)
}

// Keys lists every available preset key, external and embedded, sorted.
func (s *Store) Keys() []string {
	seen := make(map[string]bool)
	if s.dir != "" {
		if entries, err := os.ReadDir(s.dir); err == nil {
			for _, e := range entries {
				if name, ok := presetKey(e.Name()); ok {
					seen[name] = true
				}
			}
		}
	}
	entries, err := fs.ReadDir(embeddedPresets, "presets")
	if err == nil {
		for _, e := range entries {
			if name, ok := presetKey(e.Name()); ok {
				seen[name] = true
			}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func presetKey(filename string) (string, bool) {
	if !strings.HasSuffix(filename, ".yaml") {
		return "", false
	}
	return strings.TrimSuffix(filename, ".yaml"), true
}

func parsePreset(key string, raw []byte) (Preset, error) {
	var p Preset
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Preset{}, fmt.Errorf("preset: parse %q: %w", key, err)
	}
	if p.Key == "" {
		p.Key = key
	}
	if p.Goal == "" {
		return Preset{}, fmt.Errorf("preset: %q has no goal", key)
	}
	if p.Mode == "" {
		p.Mode = model.ModeDryRun
	}
	if !p.Mode.Valid() {
		return Preset{}, fmt.Errorf("preset: %q has unknown mode %q", key, p.Mode)
	}
	return p, nil
}
