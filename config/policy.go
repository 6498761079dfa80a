package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	policyEnvPrefix = "POLICY_ROUTES__"
	policyRootKey   = "routes"

	// route names contain dots, so keys are split on a character they never use
	policyDelim = "/"
)

// PolicyOverrides maps a route name to the roles allowed to call it.
// The single role "*" admits any authenticated caller.
type PolicyOverrides map[string][]string

// LoadPolicyOverrides reads route role overrides from a YAML file and the environment.
//
//	routes:
//	  materials.delete: [Admin, ProjectManager]
//
// Environment entries take precedence, with "__" standing in for the dot in the
// route name: POLICY_ROUTES__MATERIALS__DELETE=Admin,ProjectManager. Route names
// are returned lower-cased, so callers match them case-insensitively.
// An empty path skips the file.
func LoadPolicyOverrides(path string) (PolicyOverrides, error) {
	overrides := PolicyOverrides{}

	if path != "" {
		fk := koanf.New(policyDelim)
		if err := fk.Load(file.Provider(path), yaml.Parser()); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("policy file %s does not exist", path)
			}
			return nil, fmt.Errorf("failed to load policy file %s: %w", path, err)
		}
		if err := collectPolicy(fk, overrides); err != nil {
			return nil, err
		}
	}

	ek := koanf.New(policyDelim)
	if err := ek.Load(env.ProviderWithValue(policyEnvPrefix, policyDelim, func(key, value string) (string, interface{}) {
		name := strings.ReplaceAll(strings.TrimPrefix(key, policyEnvPrefix), "__", ".")
		return policyRootKey + policyDelim + name, splitRoles(value)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load policy environment: %w", err)
	}
	if err := collectPolicy(ek, overrides); err != nil {
		return nil, err
	}
	return overrides, nil
}

// collectPolicy copies the routes of k into overrides under lower-cased names,
// replacing entries already there
func collectPolicy(k *koanf.Koanf, overrides PolicyOverrides) error {
	prefix := policyRootKey + policyDelim
	for _, key := range k.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, prefix))
		roles := k.Strings(key)
		if len(roles) == 0 {
			return fmt.Errorf("policy for route %q must list at least one role", name)
		}
		overrides[name] = roles
	}
	return nil
}

func splitRoles(value string) []string {
	var roles []string
	for _, r := range strings.Split(value, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
