package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

const (
	configDirName  = "prometheus_periodic_commands"
	configFileName = "config.yaml"
)

var ErrNotFound = errors.New("no config file found")

// CandidatePaths lists where Discover looks, in priority order.
func CandidatePaths() []string {
	home, _ := os.UserHomeDir()
	if runtime.GOOS == "windows" {
		var out []string
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			out = append(out, filepath.Join(local, configDirName, configFileName))
		} else if home != "" {
			out = append(out, filepath.Join(home, "AppData", "Local", configDirName, configFileName))
		}
		return append(out, configFileName)
	}

	out := []string{
		configFileName,
		filepath.Join("/etc", configDirName, configFileName),
	}
	if home != "" {
		out = append(out, filepath.Join(home, ".config", configDirName, configFileName))
	}
	return out
}

// Discover returns the first candidate path that is a regular file.
func Discover() (string, error) {
	return discoverIn(CandidatePaths())
}

func discoverIn(paths []string) (string, error) {
	for _, p := range paths {
		st, err := os.Stat(p)
		if err == nil && st.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", ErrNotFound
}
