// Package device reports host status mirrored to web clients.
package device

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultRoot is where Linux exposes power supplies.
const DefaultRoot = "/sys/class/power_supply"

// Host reads battery status from a sysfs power_supply tree.
type Host struct {
	root string
}

// New creates a Host reading from root; an empty root means DefaultRoot.
func New(root string) *Host {
	if root == "" {
		root = DefaultRoot
	}
	return &Host{root: root}
}

// Battery returns the charge of the first battery found. A host without a
// battery reports full and charging, as mains powered machines do.
func (h *Host) Battery() (percent int, charging bool) {
	entries, err := os.ReadDir(h.root)
	if err != nil {
		return 100, true
	}
	for _, e := range entries {
		dir := filepath.Join(h.root, e.Name())
		if read(dir, "type") != "Battery" {
			continue
		}
		n, err := strconv.Atoi(read(dir, "capacity"))
		if err != nil {
			continue
		}
		status := read(dir, "status")
		return min(max(n, 0), 100), status == "Charging" || status == "Full"
	}
	return 100, true
}

func read(dir, name string) string {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
