package printer

import "github.com/slok/dpkgdrv/internal/model"

// Printer knows how to print driver information in different formats.
type Printer interface {
	PrintPlan(invocations []model.Invocation, totalSteps int) error
	PrintRuns(runs []model.Run) error
	PrintRun(run model.Run) error
	PrintPackages(pkgs []model.Package) error
	PrintChecks(results []model.CheckResult) error
	PrintMessage(msg string) error
}
