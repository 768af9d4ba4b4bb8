package models

import "time"

// OffsiteConfig holds the S3-compatible bucket that receives a copy of each run.
type OffsiteConfig struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, for MinIO and other S3-compatible stores
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// OffsiteResult holds the result of an upload.
type OffsiteResult struct {
	Key       string
	SizeBytes int64
	Duration  time.Duration
}
