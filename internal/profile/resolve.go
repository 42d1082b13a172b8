package profile

import (
	"fmt"
	"regexp"

	"github.com/matheus3301/wbridge/internal/config"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name conforms to profile naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

// Load reads the global config, falling back to defaults when there is none,
// and resolves the active profile name: the flag, then default_profile.
func Load(configPath, flagOverride string) (*config.Config, string, error) {
	if configPath == "" {
		configPath = ConfigPath()
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, "", err
	}
	name := config.ResolveProfile(flagOverride, cfg)
	if err := ValidateName(name); err != nil {
		return nil, "", err
	}
	return cfg, name, nil
}
