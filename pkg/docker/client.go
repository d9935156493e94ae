package docker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

const (
	connectRetries    = 3
	connectRetryDelay = 2 * time.Second
)

// EngineDriver implements Driver against the Docker Engine API over the
// local socket.
type EngineDriver struct {
	cli *client.Client
}

// NewEngineDriver connects to the engine at host (e.g.
// unix:///var/run/docker.sock). Connection setup is retried a fixed number of
// times with a fixed delay; individual RPCs are not retried.
func NewEngineDriver(ctx context.Context, host string) (*EngineDriver, error) {
	var lastErr error
	for attempt := 1; attempt <= connectRetries; attempt++ {
		cli, err := client.NewClientWithOpts(
			client.WithHost(host),
			client.WithAPIVersionNegotiation(),
		)
		if err == nil {
			if _, err = cli.Ping(ctx); err == nil {
				return &EngineDriver{cli: cli}, nil
			}
			_ = cli.Close()
		}
		lastErr = err
		slog.Warn("Container engine connection failed",
			"host", host, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectRetryDelay):
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (d *EngineDriver) CreateAndStart(ctx context.Context, spec ContainerSpec) (string, error) {
	created, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image:  spec.Image,
			Env:    spec.Env,
			Labels: spec.Labels,
		},
		&container.HostConfig{
			NetworkMode: container.NetworkMode(spec.Network),
			AutoRemove:  spec.AutoRemove,
		},
		nil, nil, spec.Name)
	if err != nil {
		switch {
		case cerrdefs.IsNotFound(err):
			return "", fmt.Errorf("%w: %s", ErrImageMissing, spec.Image)
		case cerrdefs.IsConflict(err):
			return "", fmt.Errorf("%w: %s", ErrConflict, spec.Name)
		default:
			return "", fmt.Errorf("%w: create: %v", ErrUnavailable, err)
		}
	}

	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("%w: start %s: %v", ErrUnavailable, created.ID, err)
	}
	return created.ID, nil
}

// Stop is idempotent: not-found and not-modified responses count as success.
func (d *EngineDriver) Stop(ctx context.Context, containerID string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	err := d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds})
	if err == nil || cerrdefs.IsNotFound(err) || cerrdefs.IsNotModified(err) {
		return nil
	}
	return fmt.Errorf("%w: stop %s: %v", ErrUnavailable, containerID, err)
}

func (d *EngineDriver) ListRunning(ctx context.Context, labels map[string]string) ([]ContainerInfo, error) {
	args := filters.NewArgs(filters.Arg("status", "running"))
	for k, v := range labels {
		args.Add("label", fmt.Sprintf("%s=%s", k, v))
	}
	list, err := d.cli.ContainerList(ctx, container.ListOptions{Filters: args})
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrUnavailable, err)
	}

	infos := make([]ContainerInfo, 0, len(list))
	for _, c := range list {
		name := ""
		if len(c.Names) > 0 {
			name = c.Names[0]
		}
		infos = append(infos, ContainerInfo{
			ID:        c.ID,
			Name:      name,
			Labels:    c.Labels,
			Status:    c.State,
			CreatedAt: time.Unix(c.Created, 0).UTC(),
		})
	}
	return infos, nil
}

func (d *EngineDriver) Inspect(ctx context.Context, containerID string) (bool, error) {
	info, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: inspect %s: %v", ErrUnavailable, containerID, err)
	}
	return info.State != nil && info.State.Running, nil
}

func (d *EngineDriver) Close() error {
	return d.cli.Close()
}
