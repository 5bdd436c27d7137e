package main

import (
	"os"
	"path/filepath"
)

// opsbridgeHome returns the path to the opsbridge home directory (~/.opsbridge).
func opsbridgeHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".opsbridge"), nil
}

func defaultSocketPath() string {
	home, err := opsbridgeHome()
	if err != nil {
		return "/tmp/opsbridge.sock"
	}
	return filepath.Join(home, "opsbridge.sock")
}
