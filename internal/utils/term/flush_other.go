//go:build !linux

package term

import (
	"fmt"
	"os"
)

// FlushInput is not supported on non-Linux platforms.
func FlushInput(f *os.File) error {
	if !IsTerminal(f) {
		return nil
	}
	return fmt.Errorf("not available on this platform: %w", ErrFlushUnsupported)
}
