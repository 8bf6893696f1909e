// Package config implements the apt style hierarchical configuration tree
// used by the driver.
//
// Keys are `::` separated paths (e.g. `Dpkg::MaxArgs`) and, like apt, they
// are case insensitive. Values can be scalars or ordered lists.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Delimiter is the configuration key path delimiter.
const Delimiter = "::"

// Well known keys.
const (
	KeyMaxArgs      = "Dpkg::MaxArgs"
	KeyMaxArgBytes  = "Dpkg::MaxArgBytes"
	KeyDpkgPath     = "Dir::Bin::dpkg"
	KeyDpkgOptions  = "DPkg::Options"
	KeyRunDirectory = "DPkg::Run-Directory"
	KeyFlushStdin   = "DPkg::FlushSTDIN"
	KeyToolsOptions = "DPkg::Tools::Options"
)

// Hook names.
const (
	HookPreInvoke      = "Pre-Invoke"
	HookPostInvoke     = "Post-Invoke"
	HookPreInstallPkgs = "Pre-Install-Pkgs"
)

const (
	defMaxArgs      = 8192
	defMaxArgBytes  = 32 * 1024
	defDpkgPath     = "dpkg"
	defRunDirectory = "/"
	defFlushStdin   = true
)

// Defaults returns the default configuration values.
func Defaults() map[string]any {
	return map[string]any{
		KeyMaxArgs:      defMaxArgs,
		KeyMaxArgBytes:  defMaxArgBytes,
		KeyDpkgPath:     defDpkgPath,
		KeyRunDirectory: defRunDirectory,
		KeyFlushStdin:   defFlushStdin,
	}
}

// Config is a loaded configuration tree.
type Config struct {
	k *koanf.Koanf
	// names keeps the first seen spelling of each lowercased key.
	names map[string]string
}

// LoadConfig is the configuration used to load a configuration tree.
type LoadConfig struct {
	// OptionalFiles are YAML files loaded only if they exist.
	OptionalFiles []string
	// Files are YAML files that must exist.
	Files []string
	// EnvPrefix enables loading `<prefix>A__B=value` env vars as `A::B`.
	EnvPrefix string
	// Overrides are `Key::Path=value` assignments applied last.
	// A key ending in `::` appends the value to the list at that key.
	Overrides []string
}

// New returns a configuration tree with the defaults and the received values
// on top. Values use flat `::` separated keys.
func New(values map[string]any) (*Config, error) {
	c := empty()
	if err := c.load(confmap.Provider(Defaults(), Delimiter), nil); err != nil {
		return nil, fmt.Errorf("could not load defaults: %w", err)
	}
	if err := c.load(confmap.Provider(values, Delimiter), nil); err != nil {
		return nil, fmt.Errorf("could not load values: %w", err)
	}
	return c, nil
}

// Load loads the configuration tree from all the configured sources, in order:
// defaults, optional files, files, env vars and overrides.
func Load(cfg LoadConfig) (*Config, error) {
	c := empty()
	if err := c.load(confmap.Provider(Defaults(), Delimiter), nil); err != nil {
		return nil, fmt.Errorf("could not load defaults: %w", err)
	}

	for _, path := range cfg.OptionalFiles {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("could not stat config file %s: %w", path, err)
		}
		if err := c.load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("could not load config file %s: %w", path, err)
		}
	}

	for _, path := range cfg.Files {
		if err := c.load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("could not load config file %s: %w", path, err)
		}
	}

	if cfg.EnvPrefix != "" {
		prefix := cfg.EnvPrefix
		err := c.load(env.Provider(prefix, Delimiter, func(s string) string {
			return strings.ReplaceAll(strings.TrimPrefix(s, prefix), "__", Delimiter)
		}), nil)
		if err != nil {
			return nil, fmt.Errorf("could not load env vars: %w", err)
		}
	}

	for _, o := range cfg.Overrides {
		if err := c.Set(o); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func empty() *Config {
	return &Config{
		k:     koanf.New(Delimiter),
		names: map[string]string{},
	}
}

// load loads a provider on a temporary tree and merges it using lowercased keys.
func (c *Config) load(p koanf.Provider, parser koanf.Parser) error {
	tmp := koanf.New(Delimiter)
	if err := tmp.Load(p, parser); err != nil {
		return err
	}

	lowered := map[string]any{}
	for key, value := range tmp.All() {
		lk := strings.ToLower(key)
		if _, ok := c.names[lk]; !ok {
			c.names[lk] = key
		}
		lowered[lk] = value
	}

	return c.k.Load(confmap.Provider(lowered, Delimiter), nil)
}

// Set applies a `Key::Path=value` assignment.
func (c *Config) Set(assignment string) error {
	key, value, ok := strings.Cut(assignment, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" || key == Delimiter {
		return fmt.Errorf("invalid configuration assignment %q, must be Key::Path=value", assignment)
	}

	if strings.HasSuffix(key, Delimiter) {
		key = strings.TrimSuffix(key, Delimiter)
		items := append(c.List(key), value)
		return c.load(confmap.Provider(map[string]any{key: items}, Delimiter), nil)
	}

	return c.load(confmap.Provider(map[string]any{key: value}, Delimiter), nil)
}

// Exists returns true if the key has a value.
func (c *Config) Exists(key string) bool {
	return c.k.Exists(strings.ToLower(key))
}

// String returns the string value of a key or def if missing.
func (c *Config) String(key, def string) string {
	v := c.k.Get(strings.ToLower(key))
	switch t := v.(type) {
	case nil:
		return def
	case string:
		return t
	case []any, map[string]any:
		return def
	default:
		return fmt.Sprint(t)
	}
}

// Int returns the integer value of a key or def if missing or invalid.
func (c *Config) Int(key string, def int) int {
	v := c.k.Get(strings.ToLower(key))
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case uint64:
		return int(t)
	case float64:
		return int(t)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return def
		}
		return i
	default:
		return def
	}
}

// Bool returns the boolean value of a key or def if missing or invalid.
func (c *Config) Bool(key string, def bool) bool {
	v := c.k.Get(strings.ToLower(key))
	switch t := v.(type) {
	case bool:
		return t
	case int:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "on", "1", "with", "enable":
			return true
		case "false", "no", "off", "0", "without", "disable":
			return false
		}
		return def
	default:
		return def
	}
}

// List returns the ordered list of values at a key. A scalar value is
// returned as a single item list.
func (c *Config) List(key string) []string {
	v := c.k.Get(strings.ToLower(key))
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			items = append(items, fmt.Sprint(item))
		}
		return items
	case []string:
		return append([]string{}, t...)
	case map[string]any:
		// Map children are listed in key order, like an apt sub tree.
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]string, 0, len(keys))
		for _, k := range keys {
			items = append(items, fmt.Sprint(t[k]))
		}
		return items
	default:
		return []string{fmt.Sprint(t)}
	}
}

// Entry is a single key value of the configuration tree.
type Entry struct {
	Key   string
	Value string
}

// Entries returns every non empty value of the tree sorted by key. List items
// are returned as multiple entries with a `Key::` key.
func (c *Config) Entries() []Entry {
	var entries []Entry
	for _, lk := range c.k.Keys() {
		name, ok := c.names[lk]
		if !ok {
			name = lk
		}

		switch t := c.k.Get(lk).(type) {
		case []any, []string:
			for _, item := range c.List(lk) {
				if item != "" {
					entries = append(entries, Entry{Key: name + Delimiter, Value: item})
				}
			}
		case nil:
		default:
			if s := fmt.Sprint(t); s != "" {
				entries = append(entries, Entry{Key: name, Value: s})
			}
		}
	}

	return entries
}
