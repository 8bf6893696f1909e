package dpkg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/slok/dpkgdrv/internal/config"
	"github.com/slok/dpkgdrv/internal/model"
	"github.com/slok/dpkgdrv/internal/utils/term"
)

// Check runs preflight checks for the driver and returns the results.
// Each check is independent and all checks are always run.
func (d *Driver) Check(ctx context.Context) []model.CheckResult {
	var results []model.CheckResult

	results = append(results, d.checkTool())
	results = append(results, d.checkRunDirectory())
	results = append(results, d.checkStdin())

	return results
}

// CheckHooks checks the programs of the configured hooks can be found.
func CheckHooks(cfg *config.Config) []model.CheckResult {
	var results []model.CheckResult
	for _, h := range []string{config.HookPreInvoke, config.HookPreInstallPkgs, config.HookPostInvoke} {
		cmds := cfg.Hooks(h)
		if len(cmds) == 0 {
			continue
		}

		var missing []string
		for _, c := range cmds {
			fields := strings.Fields(c)
			if len(fields) == 0 {
				continue
			}
			// Only absolute programs can be checked, the rest may be shell builtins.
			if strings.HasPrefix(fields[0], "/") {
				if _, err := exec.LookPath(fields[0]); err != nil {
					missing = append(missing, fields[0])
				}
			}
		}

		id := "hooks_" + strings.ToLower(h)
		if len(missing) > 0 {
			results = append(results, model.CheckResult{
				ID:      id,
				Message: fmt.Sprintf("%s programs not found: %s", h, strings.Join(missing, ", ")),
				Status:  model.CheckStatusWarning,
			})
			continue
		}
		results = append(results, model.CheckResult{
			ID:      id,
			Message: fmt.Sprintf("%d %s commands configured", len(cmds), h),
			Status:  model.CheckStatusOK,
		})
	}

	return results
}

func (d *Driver) checkTool() model.CheckResult {
	path, err := exec.LookPath(d.tool)
	if err != nil {
		return model.CheckResult{
			ID:      "dpkg_binary",
			Message: fmt.Sprintf("Package tool %s not found: %v", d.tool, err),
			Status:  model.CheckStatusError,
		}
	}

	return model.CheckResult{
		ID:      "dpkg_binary",
		Message: fmt.Sprintf("Package tool found at %s", path),
		Status:  model.CheckStatusOK,
	}
}

func (d *Driver) checkRunDirectory() model.CheckResult {
	info, err := os.Stat(d.runDir)
	if err != nil {
		return model.CheckResult{
			ID:      "run_directory",
			Message: fmt.Sprintf("Cannot access run directory %s: %v", d.runDir, err),
			Status:  model.CheckStatusError,
		}
	}

	if !info.IsDir() {
		return model.CheckResult{
			ID:      "run_directory",
			Message: fmt.Sprintf("Run directory %s is not a directory", d.runDir),
			Status:  model.CheckStatusError,
		}
	}

	return model.CheckResult{
		ID:      "run_directory",
		Message: fmt.Sprintf("Run directory %s exists", d.runDir),
		Status:  model.CheckStatusOK,
	}
}

func (d *Driver) checkStdin() model.CheckResult {
	f, ok := d.stdin.(*os.File)
	if !d.flushStdin || !ok || !term.IsTerminal(f) {
		return model.CheckResult{
			ID:      "stdin_flush",
			Message: "Standard input is not flushed",
			Status:  model.CheckStatusOK,
		}
	}

	return model.CheckResult{
		ID:      "stdin_flush",
		Message: "Standard input is a terminal, pending input will be discarded before running the package tool",
		Status:  model.CheckStatusOK,
	}
}
