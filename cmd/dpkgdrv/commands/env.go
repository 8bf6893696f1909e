package commands

import (
	utilsenv "github.com/slok/dpkgdrv/internal/utils/env"
)

// parseEnvSpecs parses `--env` flag values, `KEY=VALUE` or `KEY` inherited
// from the current environment.
func parseEnvSpecs(specs []string) (map[string]string, error) {
	return utilsenv.ParseSpecs(specs)
}
