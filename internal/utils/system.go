package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
)

// IsTerminal checks if the given file descriptor is a terminal (including Cygwin/MSYS ptys).
func IsTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// EnsureFilepathExists creates the parent directory of filePath if it does not exist.
func EnsureFilepathExists(filePath string) error {
	dir := filepath.Dir(filePath)
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0750); err != nil { // rwxr-x---
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// GenerateUniquePayload returns prefix followed by a random token, used to build
// payloads no server could have seen before.
func GenerateUniquePayload(prefix string) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	if prefix == "" {
		return token
	}
	return prefix + "-" + token
}
