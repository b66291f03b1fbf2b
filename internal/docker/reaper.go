// Package docker removes agent containers that outlive a killed phase.
//
// The agent CLI starts its own container per invocation. When the
// supervisor kills the CLI on timeout the container can keep running and
// keep writing into the variant directory, so it is killed and removed by
// name.
package docker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
	"go.uber.org/zap"

	"github.com/signalnine/ccobench/internal/workspace"
)

const stopTimeout = 10 * time.Second

// ContainerAPI is the part of the Docker engine API the reaper needs.
type ContainerAPI interface {
	Kill(ctx context.Context, name string) error
	WaitStopped(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
	Close() error
}

type Reaper struct {
	api          ContainerAPI
	nameTemplate string
	logger       *zap.Logger
}

// NewReaper connects to the engine from the environment (DOCKER_HOST etc).
// nameTemplate may contain {project} and {variant}.
func NewReaper(nameTemplate string, logger *zap.Logger) (*Reaper, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return NewReaperWithAPI(&mobyAPI{cli: cli}, nameTemplate, logger), nil
}

func NewReaperWithAPI(api ContainerAPI, nameTemplate string, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{api: api, nameTemplate: nameTemplate, logger: logger}
}

func (r *Reaper) ContainerName(project string, variant workspace.Variant) string {
	return strings.NewReplacer("{project}", project, "{variant}", string(variant)).Replace(r.nameTemplate)
}

// Reap kills and removes the agent container for project/variant. A missing
// container is not an error.
func (r *Reaper) Reap(ctx context.Context, project string, variant workspace.Variant) error {
	name := r.ContainerName(project, variant)
	logger := r.logger.With(zap.String("container", name))

	if err := r.api.Kill(ctx, name); err != nil {
		switch {
		case errdefs.IsNotFound(err):
			logger.Debug("no agent container to reap")
			return nil
		case errdefs.IsConflict(err):
			// already stopped
		default:
			return fmt.Errorf("killing container %s: %w", name, err)
		}
	} else {
		waitCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		if err := r.api.WaitStopped(waitCtx, name); err != nil {
			logger.Warn("waiting for container to stop", zap.Error(err))
		}
		cancel()
	}

	if err := r.api.Remove(ctx, name); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("removing container %s: %w", name, err)
	}
	logger.Info("reaped agent container")
	return nil
}

func (r *Reaper) Close() error {
	return r.api.Close()
}

type mobyAPI struct {
	cli *client.Client
}

func (m *mobyAPI) Kill(ctx context.Context, name string) error {
	_, err := m.cli.ContainerKill(ctx, name, client.ContainerKillOptions{Signal: "SIGKILL"})
	return err
}

func (m *mobyAPI) WaitStopped(ctx context.Context, name string) error {
	waitResult := m.cli.ContainerWait(ctx, name, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	for {
		select {
		case err := <-waitResult.Error:
			if err != nil {
				return err
			}
			// nil error means no error on this channel; wait for result
		case <-waitResult.Result:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *mobyAPI) Remove(ctx context.Context, name string) error {
	_, err := m.cli.ContainerRemove(ctx, name, client.ContainerRemoveOptions{Force: true})
	return err
}

func (m *mobyAPI) Close() error {
	return m.cli.Close()
}
