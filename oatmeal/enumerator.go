package oatmeal

import (
	"sort"
	"strings"

	goserial "go.bug.st/serial"
)

// BugStEnumerator lists serial endpoints via go.bug.st/serial, the
// concrete default for the OS endpoint-enumeration collaborator.
type BugStEnumerator struct{}

func (BugStEnumerator) ListEndpoints() ([]string, error) {
	return goserial.GetPortsList()
}

// prioritizeEndpoint sorts paths so that likely-USB endpoints are probed
// first: paths containing "usb", then paths starting with "tty", then
// everything else, each group preserving enumeration order. Ported in
// spirit from the original discovery layer's path-priority heuristic.
func prioritizeEndpoint(paths []string) []string {
	rank := func(p string) int {
		lower := strings.ToLower(p)
		switch {
		case strings.Contains(lower, "usb"):
			return 0
		case strings.HasPrefix(lower, "tty") || strings.Contains(lower, "/tty"):
			return 1
		default:
			return 2
		}
	}
	out := make([]string, len(paths))
	copy(out, paths)
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}
