// Package caselib locates case files on disk and ships a small embedded demo
// case so the tools run without any setup.
package caselib

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed cases/demo9.json
var demoCase []byte

// DemoCaseName resolves to the embedded demo network without touching the
// search path.
const DemoCaseName = "demo9.json"

// EnvCaseDir names the environment variable holding extra case search
// directories, separated by the OS path list separator.
const EnvCaseDir = "PSSETOOLS_CASE_DIR"

// DemoCase returns a copy of the embedded demo case bytes.
func DemoCase() []byte {
	return append([]byte(nil), demoCase...)
}

// WriteDemo writes the demo case into dir and returns the file path.
func WriteDemo(dir string) (string, error) {
	path := filepath.Join(dir, DemoCaseName)
	if err := os.WriteFile(path, demoCase, 0o644); err != nil {
		return "", fmt.Errorf("write demo case: %w", err)
	}
	return path, nil
}

// Resolve maps a case name to a readable file path. Absolute paths are
// verified as-is; relative names are searched in the working directory and
// then in each directory listed in EnvCaseDir. A miss wraps os.ErrNotExist.
func Resolve(name string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("case file %q: %w", name, err)
		}
		return name, nil
	}

	dirs := []string{"."}
	if env := os.Getenv(EnvCaseDir); env != "" {
		dirs = append(dirs, filepath.SplitList(env)...)
	}
	for _, dir := range dirs {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("case file %q not found in %v: %w", name, dirs, os.ErrNotExist)
}
