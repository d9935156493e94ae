package docker

import (
	"context"
	"sync"
	"time"
)

// StubDriver is an in-memory Driver for tests. It records every created
// container and lets tests kill containers out-of-band or inject failures.
type StubDriver struct {
	mu sync.Mutex

	containers map[string]*stubContainer
	nextID     int

	// CreateErr, when set, makes CreateAndStart fail.
	CreateErr error
	// ListErr, when set, makes ListRunning fail.
	ListErr error

	// Stopped records container ids Stop was called with, in order.
	Stopped []string
	// Specs records every spec passed to CreateAndStart, in order.
	Specs []ContainerSpec
}

type stubContainer struct {
	info    ContainerInfo
	running bool
}

// NewStubDriver creates an empty stub driver.
func NewStubDriver() *StubDriver {
	return &StubDriver{containers: make(map[string]*stubContainer)}
}

func (d *StubDriver) CreateAndStart(_ context.Context, spec ContainerSpec) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.CreateErr != nil {
		return "", d.CreateErr
	}
	d.Specs = append(d.Specs, spec)
	d.nextID++
	id := spec.Name
	if id == "" {
		id = "container"
	}
	id = id + "-id"
	d.containers[id] = &stubContainer{
		info: ContainerInfo{
			ID:        id,
			Name:      spec.Name,
			Labels:    spec.Labels,
			Status:    "running",
			CreatedAt: time.Now().UTC(),
		},
		running: true,
	}
	return id, nil
}

func (d *StubDriver) Stop(_ context.Context, containerID string, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Stopped = append(d.Stopped, containerID)
	if c, ok := d.containers[containerID]; ok {
		c.running = false
	}
	return nil
}

func (d *StubDriver) ListRunning(_ context.Context, labels map[string]string) ([]ContainerInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ListErr != nil {
		return nil, d.ListErr
	}
	var out []ContainerInfo
	for _, c := range d.containers {
		if !c.running {
			continue
		}
		if matchesLabels(c.info.Labels, labels) {
			out = append(out, c.info)
		}
	}
	return out, nil
}

func matchesLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func (d *StubDriver) Inspect(_ context.Context, containerID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.containers[containerID]
	return ok && c.running, nil
}

// Kill marks a container as not running without recording a stop, simulating
// an out-of-band death (tests).
func (d *StubDriver) Kill(containerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.containers[containerID]; ok {
		c.running = false
	}
}

// RunningCount returns the number of running containers matching the labels.
func (d *StubDriver) RunningCount(labels map[string]string) int {
	infos, _ := d.ListRunning(context.Background(), labels)
	return len(infos)
}

func (d *StubDriver) Close() error { return nil }
