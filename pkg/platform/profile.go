package platform

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Profile is one credential profile: a platform host and a bearer token.
type Profile struct {
	Host  string `yaml:"host"`
	Token string `yaml:"token"`
}

// DefaultProfilesPath returns the default profiles file location.
func DefaultProfilesPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "profiles.yaml"
	}
	return filepath.Join(home, ".config", "lakedeploy", "profiles.yaml")
}

// LoadProfile resolves a named profile. The environment variables
// LAKEDEPLOY_HOST and LAKEDEPLOY_TOKEN override the file when both are
// set, so CI can run without a profiles file.
func LoadProfile(path, name string) (Profile, error) {
	if host, token := os.Getenv("LAKEDEPLOY_HOST"), os.Getenv("LAKEDEPLOY_TOKEN"); host != "" && token != "" {
		return Profile{Host: host, Token: token}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("reading profiles file %s: %w", path, err)
	}
	var profiles map[string]Profile
	if err := yaml.Unmarshal(raw, &profiles); err != nil {
		return Profile{}, fmt.Errorf("parsing profiles file %s: %w", path, err)
	}
	profile, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile %q not found in %s", name, path)
	}
	if profile.Host == "" || profile.Token == "" {
		return Profile{}, fmt.Errorf("profile %q is missing host or token", name)
	}
	return profile, nil
}
