// Package env builds the environment of the child processes.
package env

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var keyRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseSpecs parses `KEY=VALUE` specs. A spec with only `KEY` takes the
// value from the current environment and fails if it's not set.
func ParseSpecs(specs []string) (map[string]string, error) {
	vars := make(map[string]string, len(specs))
	for _, spec := range specs {
		key, value, hasValue := strings.Cut(spec, "=")
		if !keyRegexp.MatchString(key) {
			return nil, fmt.Errorf("invalid environment variable key %q", key)
		}

		if !hasValue {
			v, ok := os.LookupEnv(key)
			if !ok {
				return nil, fmt.Errorf("environment variable %q is not set", key)
			}
			value = v
		}
		vars[key] = value
	}

	return vars, nil
}

// Merge merges variable maps, later maps win.
func Merge(maps ...map[string]string) map[string]string {
	merged := map[string]string{}
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}

// FromEnviron converts a `KEY=VALUE` list like os.Environ into a map.
// Entries without a key are ignored.
func FromEnviron(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}

// Environ converts a map into a sorted `KEY=VALUE` list for exec.Cmd.Env.
func Environ(m map[string]string) []string {
	res := make([]string, 0, len(m))
	for k, v := range m {
		res = append(res, k+"="+v)
	}
	sort.Strings(res)
	return res
}

// Child returns the current process environment with vars applied on top.
func Child(vars ...map[string]string) []string {
	return Environ(Merge(append([]map[string]string{FromEnviron(os.Environ())}, vars...)...))
}
