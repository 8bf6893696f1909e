package printer

import "strconv"

var sizeUnits = []string{"KiB", "MiB", "GiB"}

// FormatSize returns a human-readable size for a byte count.
// Examples: "0 B", "512 B", "1.5 KiB", "2.0 MiB".
func FormatSize(n int) string {
	if n < 1024 {
		if n < 0 {
			n = 0
		}
		return strconv.Itoa(n) + " B"
	}

	size := float64(n) / 1024
	unit := 0
	for size >= 1024 && unit < len(sizeUnits)-1 {
		size /= 1024
		unit++
	}

	return strconv.FormatFloat(size, 'f', 1, 64) + " " + sizeUnits[unit]
}
