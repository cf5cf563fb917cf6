package targets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/HerbHall/fleetpulse/pkg/models"
)

// Default file names inside the targets directory.
const (
	DefaultTerminalFile       = "devices.json"
	DefaultVirtualizationFile = "proxmox.json"
)

// Files locates the two target files.
type Files struct {
	Dir            string `mapstructure:"dir"`
	Terminal       string `mapstructure:"devices_file"`
	Virtualization string `mapstructure:"proxmox_file"`
}

func (f Files) terminalPath() string {
	name := f.Terminal
	if name == "" {
		name = DefaultTerminalFile
	}
	return filepath.Join(f.Dir, name)
}

func (f Files) virtualizationPath() string {
	name := f.Virtualization
	if name == "" {
		name = DefaultVirtualizationFile
	}
	return filepath.Join(f.Dir, name)
}

// Load reads both target files. A file that is absent keeps its group from
// prev (empty on the first load) and its path is reported in kept; an
// operator who wants no targets writes an empty list. A file that exists but
// cannot be read or parsed is an error so the caller keeps prev entirely.
func (f Files) Load(prev *Snapshot) (terminal, virtualization []models.Target, kept []string, err error) {
	if prev == nil {
		prev = &Snapshot{}
	}
	terminal, found, err := loadOrKeep(f.terminalPath(), models.GroupTerminal, prev.Terminal)
	if err != nil {
		return nil, nil, nil, err
	}
	if !found {
		kept = append(kept, f.terminalPath())
	}
	virtualization, found, err = loadOrKeep(f.virtualizationPath(), models.GroupVirtualization, prev.Virtualization)
	if err != nil {
		return nil, nil, nil, err
	}
	if !found {
		kept = append(kept, f.virtualizationPath())
	}
	return terminal, virtualization, kept, nil
}

func loadOrKeep(path string, group models.Group, prev []models.Target) ([]models.Target, bool, error) {
	list, err := LoadFile(path, group)
	if errors.Is(err, fs.ErrNotExist) {
		return prev, false, nil
	}
	return list, true, err
}

// LoadFile parses a JSON or YAML array of targets and assigns them to group.
// Duplicate addresses keep the first occurrence. A missing file is an error
// matching fs.ErrNotExist.
func LoadFile(path string, group models.Group) ([]models.Target, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read targets %q: %w", path, err)
	}
	return Parse(data, group)
}

// Parse decodes a target list. JSON is accepted since it is valid YAML.
func Parse(data []byte, group models.Group) ([]models.Target, error) {
	var raw []models.Target
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse targets: %w", err)
	}

	out := make([]models.Target, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for i, t := range raw {
		t.Group = group
		norm, err := t.Normalize()
		if err != nil {
			return nil, fmt.Errorf("target #%d: %w", i, err)
		}
		if _, dup := seen[norm.Address]; dup {
			continue
		}
		seen[norm.Address] = struct{}{}
		out = append(out, norm)
	}
	return out, nil
}
