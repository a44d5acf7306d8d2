package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultServer is the API address used when no profile or flag names one.
const DefaultServer = "http://localhost:8080"

// Profile is the persisted CLI state.
type Profile struct {
	Server string `yaml:"server"`
	Email  string `yaml:"email,omitempty"`
	Token  string `yaml:"token,omitempty"`
}

// DefaultProfilePath returns $CREDITLENS_PROFILE, or profile.yaml under the
// user config directory.
func DefaultProfilePath() string {
	if p := os.Getenv("CREDITLENS_PROFILE"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "creditlens", "profile.yaml")
}

// LoadProfile reads the profile at path. A missing file yields a profile
// pointing at DefaultServer.
func LoadProfile(path string) (*Profile, error) {
	p := &Profile{Server: DefaultServer}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if p.Server == "" {
		p.Server = DefaultServer
	}
	return p, nil
}

// Save writes the profile with owner-only permissions since it holds a
// session token.
func (p *Profile) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}

// SignedIn reports whether the profile carries a session token.
func (p *Profile) SignedIn() bool {
	return p.Token != ""
}
