package server

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lissto-dev/imagecache/pkg/logging"
	"github.com/lissto-dev/imagecache/pkg/version"
)

const (
	instanceIDKey = "instance-id"
)

// GetOrCreateInstanceID retrieves or creates a unique instance ID for this deployment
// The ID is stored next to the cache version to persist across restarts
func GetOrCreateInstanceID(ctx context.Context, backend version.Backend) (string, error) {
	instanceID, err := backend.Value(ctx, instanceIDKey)
	if err != nil {
		return "", fmt.Errorf("failed to read instance ID: %w", err)
	}
	if instanceID != "" {
		logging.Logger.Info("Loaded existing instance ID", zap.String("id", instanceID))
		return instanceID, nil
	}

	instanceID = uuid.New().String()
	logging.Logger.Info("Generated new instance ID", zap.String("id", instanceID))

	if err := backend.SetValue(ctx, instanceIDKey, instanceID); err != nil {
		return "", fmt.Errorf("failed to save instance ID: %w", err)
	}
	return instanceID, nil
}
