package model

// Package is the identity of a package known by the catalog.
type Package struct {
	Name         string
	Architecture string
	// CurrentVersion is the installed version, empty when not installed.
	CurrentVersion string
	// CandidateVersion is the version that will be installed or configured, empty when unknown.
	CandidateVersion string
}

// Installed returns true if the package has an installed version.
func (p Package) Installed() bool { return p.CurrentVersion != "" }
