package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Sources names where Load reads from.
type Sources struct {
	// Profile is a YAML profile path. Empty means none.
	Profile string
	// DotEnv is a .env file path. A missing file is not an error.
	DotEnv string
	// Environ overrides the process environment. Nil means os.Environ().
	Environ map[string]string
}

// Load builds a validated Config from defaults, the profile and the
// environment. Variables from the process environment win over the .env file.
func Load(src Sources) (*Config, error) {
	cfg := Default()

	if src.Profile != "" {
		if err := LoadProfile(src.Profile, cfg); err != nil {
			return nil, err
		}
	}

	vars, err := environment(src)
	if err != nil {
		return nil, err
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix, Environment: vars}); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadProfile validates the YAML profile at path against the profile schema
// and overlays it on cfg.
func LoadProfile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read profile: %w", err)
	}
	if err := ValidateProfile(path, data); err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("profile %s: %w", path, err)
	}
	return nil
}

// ValidateProfile checks YAML profile data against the embedded CUE schema.
// Unknown keys, wrong types and malformed durations are rejected.
func ValidateProfile(name string, data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("profile %s: %w", name, err)
	}
	if doc == nil {
		return nil
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("profile %s: %w", name, err)
	}

	// The profile is JSON by now, which is also a CUE expression.
	src := schemaCUE + "\nprofile: #Config & " + string(js) + "\n"
	value := cuecontext.New().CompileString(src, cue.Filename(name))
	if err := value.Err(); err != nil {
		return fmt.Errorf("profile %s: %w", name, err)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("profile %s: %w", name, err)
	}
	return nil
}

func environment(src Sources) (map[string]string, error) {
	vars := make(map[string]string)
	if src.DotEnv != "" {
		fileVars, err := godotenv.Read(src.DotEnv)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read %s: %w", src.DotEnv, err)
		default:
			for k, v := range fileVars {
				vars[k] = v
			}
		}
	}

	environ := src.Environ
	if environ == nil {
		environ = processEnviron()
	}
	for k, v := range environ {
		vars[k] = v
	}
	return vars, nil
}

func processEnviron() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}
