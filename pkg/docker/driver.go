// Package docker abstracts the container engine used to run meeting bots.
package docker

import (
	"context"
	"errors"
	"time"
)

// Driver errors, mapped from engine responses.
var (
	// ErrUnavailable means the engine could not be reached.
	ErrUnavailable = errors.New("container engine unavailable")

	// ErrImageMissing means the bot image is not present on the host.
	ErrImageMissing = errors.New("bot image missing")

	// ErrConflict means a container with the requested name already exists.
	ErrConflict = errors.New("container name conflict")
)

// ContainerSpec describes a container to create and start.
type ContainerSpec struct {
	Name       string
	Image      string
	Env        []string
	Labels     map[string]string
	Network    string
	AutoRemove bool
}

// ContainerInfo describes a running container.
type ContainerInfo struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Labels    map[string]string `json:"labels"`
	Status    string            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

// Driver is the thin adapter over a container engine. The Docker Engine API
// implementation is the production one; tests use StubDriver.
type Driver interface {
	// CreateAndStart creates and starts a container, returning its id.
	CreateAndStart(ctx context.Context, spec ContainerSpec) (string, error)

	// Stop stops a container. Already-stopped and already-removed
	// containers count as success.
	Stop(ctx context.Context, containerID string, timeout time.Duration) error

	// ListRunning returns running containers matching all given labels.
	ListRunning(ctx context.Context, labels map[string]string) ([]ContainerInfo, error)

	// Inspect reports whether the container exists and is running.
	Inspect(ctx context.Context, containerID string) (running bool, err error)

	Close() error
}
