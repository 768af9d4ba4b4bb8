package models

import "time"

// Platform identifies the host operating system and CPU architecture.
type Platform struct {
	OS   string
	Arch string
}

func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// ToolConfig holds the settings used to locate or download the monaco binary.
type ToolConfig struct {
	Path       string // explicit binary, skips provisioning
	Version    string // release tag such as "v2.15.2", or "latest"
	CacheDir   string
	BaseURL    string // releases URL of the monaco repository
	SHA256     string // optional expected digest of the downloaded asset
	Retries    int
	RetryDelay time.Duration
}

// ToolResult holds the result of a provisioning operation.
type ToolResult struct {
	Path       string
	Downloaded bool
	Checksum   string
	Duration   time.Duration
}
