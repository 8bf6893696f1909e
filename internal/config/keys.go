package config

// MaxArgs returns the maximum number of operations per package tool invocation.
func (c *Config) MaxArgs() int { return c.positive(KeyMaxArgs, defMaxArgs) }

// MaxArgBytes returns the maximum cumulative argument bytes per package tool invocation.
func (c *Config) MaxArgBytes() int { return c.positive(KeyMaxArgBytes, defMaxArgBytes) }

// DpkgPath returns the package tool binary.
func (c *Config) DpkgPath() string { return c.String(KeyDpkgPath, defDpkgPath) }

// DpkgOptions returns the extra flags passed to every package tool invocation.
func (c *Config) DpkgOptions() []string { return c.List(KeyDpkgOptions) }

// RunDirectory returns the working directory of the package tool.
func (c *Config) RunDirectory() string { return c.String(KeyRunDirectory, defRunDirectory) }

// FlushStdin returns true if buffered terminal input is discarded before running the package tool.
func (c *Config) FlushStdin() bool { return c.Bool(KeyFlushStdin, defFlushStdin) }

// Hooks returns the configured non empty commands of a hook (e.g. Pre-Invoke) in order.
func (c *Config) Hooks(name string) []string {
	var cmds []string
	for _, cmd := range c.List("DPkg" + Delimiter + name) {
		if cmd != "" {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

// ToolVersion returns the stdin protocol version used with a helper program.
func (c *Config) ToolVersion(program string) int {
	return c.Int(KeyToolsOptions+Delimiter+program+Delimiter+"Version", 1)
}

func (c *Config) positive(key string, def int) int {
	v := c.Int(key, def)
	if v <= 0 {
		return def
	}
	return v
}
