package tool

import (
	"fmt"
	"runtime"

	"github.com/fgeck/dynabackup/internal/models"
)

// Strategy maps a platform onto the release asset that serves it.
type Strategy interface {
	// AssetName is the file name published in the release.
	AssetName(p models.Platform) (string, error)
	// BinaryName is the file name used in the local cache.
	BinaryName(p models.Platform) string
}

// HostPlatform returns the platform the process runs on.
func HostPlatform() models.Platform {
	return models.Platform{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

// MonacoStrategy names the pre-built monaco binaries.
type MonacoStrategy struct{}

var monacoPlatforms = map[string][]string{
	"linux":   {"amd64", "arm64", "386"},
	"darwin":  {"amd64", "arm64"},
	"windows": {"amd64", "386"},
}

// AssetName returns e.g. monaco-linux-amd64 or monaco-windows-amd64.exe.
func (MonacoStrategy) AssetName(p models.Platform) (string, error) {
	for _, arch := range monacoPlatforms[p.OS] {
		if arch == p.Arch {
			name := fmt.Sprintf("monaco-%s-%s", p.OS, p.Arch)
			if p.OS == "windows" {
				name += ".exe"
			}
			return name, nil
		}
	}
	return "", &models.ToolError{
		Kind: models.UnsupportedPlatform,
		Err:  fmt.Errorf("no monaco release for %s", p),
	}
}

// BinaryName returns monaco or monaco.exe.
func (MonacoStrategy) BinaryName(p models.Platform) string {
	if p.OS == "windows" {
		return "monaco.exe"
	}
	return "monaco"
}
