package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataDirEnv overrides the data directory, mainly for tests.
const DataDirEnv = "PERIPHERAL_BLUE_DIR"

// GetDataDir returns the data directory path
func GetDataDir() string {
	if envDir := os.Getenv(DataDirEnv); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".peripheral-blue-data")
	}
	return filepath.Join(home, ".peripheral-blue-data")
}

// GetSocketDir returns the directory where Unix domain sockets are stored,
// creating it if needed.
func GetSocketDir() (string, error) {
	socketDir := filepath.Join(GetDataDir(), "sockets")
	if err := os.MkdirAll(socketDir, 0755); err != nil {
		return "", fmt.Errorf("create socket dir: %w", err)
	}
	return socketDir, nil
}

// GetSocketPath returns the socket path a named peripheral listens on.
func GetSocketPath(name string) (string, error) {
	dir, err := GetSocketDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("peripheral-%s.sock", name)), nil
}
