package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// TestMain isolates tests from any .c2d/config.yaml above the working
// directory and from the user's own config.
func TestMain(m *testing.M) {
	tmp, err := os.MkdirTemp("", "c2d-config-tests-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}

	oldWD, _ := os.Getwd()

	// Point config discovery away from the repo and user's machine.
	_ = os.Chdir(tmp)
	_ = os.Setenv("HOME", tmp)
	_ = os.Setenv("USERPROFILE", tmp) // Windows compatibility
	_ = os.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "xdg-config"))
	ResetForTesting()

	code := m.Run()

	ResetForTesting()
	_ = os.Chdir(oldWD)
	_ = os.RemoveAll(tmp)
	os.Exit(code)
}
