package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DataDir returns the root data directory for memora.
func DataDir() string {
	if dir := os.Getenv("MEMORA_DATA_DIR"); dir != "" {
		return dir
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "memora")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "memora")
}

// MemoryDir returns the directory where the long-term vector store persists.
func MemoryDir(cfg *Config) string {
	return filepath.Join(cfg.DataDir, "memory")
}

// MetricsDir returns the directory for metrics aggregates and raw logs.
func MetricsDir(cfg *Config) string {
	return filepath.Join(cfg.DataDir, "metrics")
}

// LogsDir returns the directory for operational log files.
func LogsDir(cfg *Config) string {
	return filepath.Join(cfg.DataDir, "logs")
}

// EnsureDirs creates the required directories if they don't exist.
func EnsureDirs(cfg *Config) error {
	for _, dir := range []string{cfg.DataDir, MemoryDir(cfg), MetricsDir(cfg), LogsDir(cfg)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
