// Package mongotest starts a throwaway MongoDB for integration tests.
package mongotest

import (
	"context"
	"fmt"
	"os"

	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

const image = "mongo:7"

// Instance is a running MongoDB reachable at URI.
type Instance struct {
	URI       string
	container *mongodb.MongoDBContainer
}

// Start returns the database named by DB_URI when it is set, and otherwise
// launches a MongoDB container. Callers should skip their tests on error.
func Start(ctx context.Context) (inst *Instance, err error) {
	if uri := os.Getenv("DB_URI"); uri != "" {
		return &Instance{URI: uri}, nil
	}

	// testcontainers can panic when no Docker socket is reachable.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("docker unavailable: %v", r)
		}
	}()

	container, err := mongodb.Run(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("failed to start mongodb container: %w", err)
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to read mongodb connection string: %w", err)
	}

	return &Instance{URI: uri, container: container}, nil
}

// Stop terminates the container, if one was started.
func (i *Instance) Stop(ctx context.Context) error {
	if i == nil || i.container == nil {
		return nil
	}
	return i.container.Terminate(ctx)
}
