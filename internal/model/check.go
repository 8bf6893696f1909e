package model

// CheckStatus represents the status of a preflight check.
type CheckStatus string

const (
	// CheckStatusOK indicates the check passed.
	CheckStatusOK CheckStatus = "ok"
	// CheckStatusWarning indicates the check passed with a warning.
	CheckStatusWarning CheckStatus = "warning"
	// CheckStatusError indicates the check failed.
	CheckStatusError CheckStatus = "error"
)

// CheckResult is the outcome of a single driver preflight check.
type CheckResult struct {
	ID      string      // Unique identifier for the check (e.g., "dpkg_binary").
	Message string      // Human-readable description of the result.
	Status  CheckStatus // Status of the check.
}

// HasErrors returns true if any check result has an error status.
func HasErrors(results []CheckResult) bool {
	errs, _ := CheckSummary(results)
	return errs > 0
}

// CheckSummary counts the errors and warnings of a set of check results.
func CheckSummary(results []CheckResult) (errs, warnings int) {
	for _, r := range results {
		switch r.Status {
		case CheckStatusError:
			errs++
		case CheckStatusWarning:
			warnings++
		}
	}
	return errs, warnings
}
