package hook

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	version "github.com/knqyf263/go-deb-version"

	"github.com/slok/dpkgdrv/internal/config"
	"github.com/slok/dpkgdrv/internal/model"
)

// Pending operation markers of the version 2 protocol.
const (
	MarkerConfigure = "**CONFIGURE**"
	MarkerRemove    = "**REMOVE**"
	MarkerError     = "**ERROR**"
)

// WritePendingFilesV1 writes one install archive path per line.
func WritePendingFilesV1(w io.Writer, ops []model.Operation) error {
	bw := bufio.NewWriter(w)
	for _, op := range ops {
		if op.Kind != model.OperationKindInstall {
			continue
		}
		if _, err := fmt.Fprintln(bw, op.ArchivePath); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// WritePendingFilesV2 writes the version 2 protocol: the version header, the
// configuration dump, a blank line, and a line per pending operation:
//
//	<package> <current|-> <comparator> <target|-> <archive|marker>
func WritePendingFilesV2(w io.Writer, entries []config.Entry, ops []model.Operation) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "VERSION 2")
	for _, e := range entries {
		if e.Value == "" {
			continue
		}
		fmt.Fprintf(bw, "%s=%s\n", QuoteString(e.Key, "=\"\n"), QuoteString(e.Value, "\n"))
	}
	fmt.Fprintln(bw)

	for _, op := range ops {
		fmt.Fprintln(bw, pendingLine(op))
	}

	return bw.Flush()
}

func pendingLine(op model.Operation) string {
	current := op.Package.CurrentVersion
	if current == "" {
		current = "-"
	}

	target := ""
	if op.Kind == model.OperationKindInstall || op.Kind == model.OperationKindConfigure {
		target = op.Package.CandidateVersion
	}

	cmp := ">"
	if target != "" {
		cmp = comparator(op.Package.CurrentVersion, target)
	} else {
		target = "-"
	}

	var file string
	switch op.Kind {
	case model.OperationKindInstall:
		file = op.ArchivePath
		if !op.HasAbsoluteArchive() {
			file = MarkerError
		}
	case model.OperationKindConfigure:
		file = MarkerConfigure
	default:
		file = MarkerRemove
	}

	return strings.Join([]string{op.Package.Name, current, cmp, target, file}, " ")
}

// comparator returns how current relates to target: `<` when target is newer
// or nothing is installed, `=` when equal and `>` when target is older.
func comparator(current, target string) string {
	if current == "" {
		return "<"
	}

	var c int
	cv, err1 := version.NewVersion(current)
	tv, err2 := version.NewVersion(target)
	if err1 != nil || err2 != nil {
		c = strings.Compare(current, target)
	} else {
		c = cv.Compare(tv)
	}

	switch {
	case c < 0:
		return "<"
	case c == 0:
		return "="
	default:
		return ">"
	}
}

// QuoteString escapes as `%xx` the bytes in bad, `%`, and every byte that is not
// printable ASCII or is a space.
func QuoteString(s, bad string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(bad, c) >= 0 || c == '%' || c <= 0x20 || c >= 0x7f {
			fmt.Fprintf(&b, "%%%02x", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
