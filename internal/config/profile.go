package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile is the organisation description and per-language answer rules
// loaded from the optional YAML file.
type Profile struct {
	Organisation string            `yaml:"organisation"`
	Instructions map[string]string `yaml:"instructions"`
}

// LoadProfile reads a profile file. Unknown keys are rejected.
func LoadProfile(path string) (Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return Profile{}, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()
	return ProfileFromReader(f)
}

func ProfileFromReader(r io.Reader) (Profile, error) {
	var p Profile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Profile{}, fmt.Errorf("config: decode yaml: %w", err)
	}
	p.Organisation = strings.TrimSpace(p.Organisation)
	for lang := range p.Instructions {
		switch lang {
		case "en", "hi", "mr":
		default:
			return Profile{}, fmt.Errorf("config: instructions: unsupported language %q", lang)
		}
	}
	return p, nil
}
