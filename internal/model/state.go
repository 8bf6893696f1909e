package model

// StateStep is an expected package tool state and the progress message shown when reached.
type StateStep struct {
	// State is the package state name as reported on the status stream.
	State string
	// Message is a format template receiving the package name.
	Message string
}

// stateTables are the ordered states a package goes through for each operation kind.
var stateTables = map[OperationKind][]StateStep{
	OperationKindInstall: {
		{State: "half-installed", Message: "Preparing %s"},
		{State: "unpacked", Message: "Unpacking %s"},
	},
	OperationKindConfigure: {
		{State: "unpacked", Message: "Preparing to configure %s"},
		{State: "half-configured", Message: "Configuring %s"},
		{State: "installed", Message: "Installed %s"},
	},
	OperationKindRemove: {
		{State: "half-configured", Message: "Preparing for removal of %s"},
		{State: "half-installed", Message: "Removing %s"},
		{State: "config-files", Message: "Removed %s"},
	},
	OperationKindPurge: {
		{State: "config-files", Message: "Preparing to completely remove %s"},
		{State: "not-installed", Message: "Completely removed %s"},
	},
}

// StateSteps returns the ordered state steps of an operation kind.
// The returned slice is a copy and can be modified by the caller.
func StateSteps(kind OperationKind) []StateStep {
	steps := stateTables[kind]
	cp := make([]StateStep, len(steps))
	copy(cp, steps)
	return cp
}

// PackageProgress is the progress of a single package during a run.
type PackageProgress struct {
	Name       string
	Kinds      []OperationKind
	DoneSteps  int
	TotalSteps int
}

// Finished returns true when all the expected states have been reached.
func (p PackageProgress) Finished() bool { return p.DoneSteps >= p.TotalSteps }

// TotalSteps returns the number of state transitions expected for the operations.
func TotalSteps(ops []Operation) int {
	total := 0
	for _, op := range ops {
		total += len(stateTables[op.Kind])
	}
	return total
}
