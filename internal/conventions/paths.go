package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default dpkgdrv data directory name (relative to home).
	DefaultDataDir = ".dpkgdrv"
	// DBFile is the SQLite database filename of the run journal and package catalog.
	DBFile = "dpkgdrv.db"

	// SystemConfigFile is the optional system wide configuration file.
	SystemConfigFile = "/etc/dpkgdrv/dpkgdrv.yaml"
	// DpkgStatusFile is the dpkg status database.
	DpkgStatusFile = "/var/lib/dpkg/status"

	// EnvPrefix is the prefix of the env vars loaded as configuration keys,
	// the flags use DPKGDRV_<FLAG>.
	EnvPrefix = "DPKGDRV_CONF_"
)

// DBPath returns the database path inside a data directory.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}

// DefaultDBPath returns the default database path for a home directory.
func DefaultDBPath(home string) string {
	return DBPath(filepath.Join(home, DefaultDataDir))
}
