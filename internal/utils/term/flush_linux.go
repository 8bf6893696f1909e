package term

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FlushInput discards the data received by the terminal but not read yet, so
// an interactively typed line is not consumed by a child. Non terminals are
// left untouched.
func FlushInput(f *os.File) error {
	if !IsTerminal(f) {
		return nil
	}

	if err := unix.IoctlSetInt(int(f.Fd()), unix.TCFLSH, unix.TCIFLUSH); err != nil {
		return fmt.Errorf("could not flush terminal input: %w", err)
	}

	return nil
}
