package storage

import (
	"fmt"

	"github.com/fablecast/fablecast/pkg/types"
)

// NewAdapter creates a storage adapter based on the configuration.
func NewAdapter(cfg types.StorageConfig) (Adapter, error) {
	switch cfg.Adapter {
	case "local":
		return NewLocalAdapter(cfg.Local.BasePath)
	case "s3":
		return NewS3Adapter(cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", cfg.Adapter)
	}
}
