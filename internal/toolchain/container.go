package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// ContainerConfig holds the limits applied to every toolchain container.
type ContainerConfig struct {
	// Image must contain the toolchain binary.
	Image string
	// Workdir is where the project root is bind-mounted inside the container.
	Workdir string
	// MemoryBytes caps container memory (and swap). Zero means unlimited.
	MemoryBytes int64
	// CPUs is the number of CPUs the container may use. Zero means unlimited.
	CPUs float64
	// Network is the docker network mode, "none" to disable networking.
	Network string
	// Pull pulls Image once before the first invocation.
	Pull bool
	// Env is set in every container, before Invocation.Env.
	Env map[string]string
}

// DefaultContainerConfig mirrors the limits of the platform's deployment
// wrapper: one CPU, 500 MiB and no network.
func DefaultContainerConfig() ContainerConfig {
	return ContainerConfig{
		Image:       "rust:1-slim",
		Workdir:     "/workspace",
		MemoryBytes: 500 * 1024 * 1024,
		CPUs:        1,
		Network:     "none",
	}
}

// dockerClient is the subset of the docker API the invoker needs.
type dockerClient interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// ContainerInvoker runs the toolchain inside a throwaway container with the
// project directory bind-mounted. The docker daemon must share the host
// filesystem the project was materialized on.
type ContainerInvoker struct {
	cli    dockerClient
	binary string
	cfg    ContainerConfig
	logger *slog.Logger

	pullMu sync.Mutex
	pulled bool
}

// NewContainerInvoker connects to the docker daemon configured in the
// environment (DOCKER_HOST etc.).
func NewContainerInvoker(binary string, cfg ContainerConfig, logger *slog.Logger) (*ContainerInvoker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return newContainerInvoker(cli, binary, cfg, logger), nil
}

func newContainerInvoker(cli dockerClient, binary string, cfg ContainerConfig, logger *slog.Logger) *ContainerInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultContainerConfig()
	if cfg.Image == "" {
		cfg.Image = def.Image
	}
	if cfg.Workdir == "" {
		cfg.Workdir = def.Workdir
	}
	if cfg.Network == "" {
		cfg.Network = def.Network
	}
	return &ContainerInvoker{cli: cli, binary: binary, cfg: cfg, logger: logger}
}

// Close releases the docker client.
func (c *ContainerInvoker) Close() error {
	return c.cli.Close()
}

// Invoke runs one toolchain subcommand in a fresh container.
func (c *ContainerInvoker) Invoke(ctx context.Context, inv Invocation) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, fmt.Errorf("toolchain not started: %w", err)
	}
	fail := func(err error) (Outcome, error) {
		return Outcome{}, &InvocationError{Binary: c.binary, Args: inv.Args, Err: err}
	}

	if err := c.ensureImage(ctx); err != nil {
		return fail(err)
	}

	hostConfig := &container.HostConfig{
		Binds:       []string{fmt.Sprintf("%s:%s:rw", inv.Dir, c.cfg.Workdir)},
		NetworkMode: container.NetworkMode(c.cfg.Network),
		Resources: container.Resources{
			Memory:     c.cfg.MemoryBytes,
			MemorySwap: c.cfg.MemoryBytes,
			NanoCPUs:   int64(c.cfg.CPUs * 1e9),
		},
	}
	resp, err := c.cli.ContainerCreate(ctx, &container.Config{
		Image:        c.cfg.Image,
		Cmd:          append([]string{c.binary}, inv.Args...),
		Env:          append(envList(c.cfg.Env), inv.Env...),
		WorkingDir:   c.cfg.Workdir,
		AttachStdout: true,
		AttachStderr: true,
	}, hostConfig, nil, nil, "")
	if err != nil {
		return fail(fmt.Errorf("create container: %w", err))
	}
	defer c.remove(resp.ID)

	c.logger.Debug("invoking toolchain in container",
		slog.String("container", shortID(resp.ID)),
		slog.String("image", c.cfg.Image),
		slog.Any("args", inv.Args),
	)

	runCtx, cancel := withTimeout(ctx, inv.Timeout)
	defer cancel()

	start := time.Now()
	if err := c.cli.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
		if expired(ctx, runCtx) {
			return timedOutOutcome(nil, nil, inv.Timeout, time.Since(start)), nil
		}
		if ctx.Err() != nil {
			return Outcome{}, fmt.Errorf("toolchain %v interrupted: %w", inv.Args, ctx.Err())
		}
		return fail(fmt.Errorf("start container: %w", err))
	}

	statusCh, errCh := c.cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	var (
		exit     int64
		finished bool
	)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return fail(fmt.Errorf("wait container: %s", status.Error.Message))
		}
		exit, finished = status.StatusCode, true
	case err := <-errCh:
		if runCtx.Err() == nil {
			return fail(fmt.Errorf("wait container: %w", err))
		}
	case <-runCtx.Done():
	}
	elapsed := time.Since(start)

	if !finished {
		c.kill(resp.ID)
		if expired(ctx, runCtx) {
			stdout, stderr, _ := c.logs(resp.ID)
			return timedOutOutcome(stdout, stderr, inv.Timeout, elapsed), nil
		}
		return Outcome{}, fmt.Errorf("toolchain %v interrupted: %w", inv.Args, ctx.Err())
	}

	stdout, stderr, err := c.logs(resp.ID)
	if err != nil {
		return fail(fmt.Errorf("fetch logs: %w", err))
	}
	return Outcome{
		Success:  exit == 0,
		ExitCode: int(exit),
		Stdout:   decode(stdout),
		Stderr:   decode(stderr),
		Duration: elapsed,
	}, nil
}

// pullTimeout bounds one image pull.
const pullTimeout = 10 * time.Minute

// ensureImage pulls the image until one pull succeeds. Failed pulls are
// retried by the next invocation. The pull is detached from ctx's
// cancellation so one abandoned request does not abort it for the others
// waiting on pullMu.
func (c *ContainerInvoker) ensureImage(ctx context.Context) error {
	if !c.cfg.Pull {
		return nil
	}
	c.pullMu.Lock()
	defer c.pullMu.Unlock()
	if c.pulled {
		return nil
	}

	pullCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pullTimeout)
	defer cancel()

	c.logger.Info("pulling toolchain image", slog.String("image", c.cfg.Image))
	reader, err := c.cli.ImagePull(pullCtx, c.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", c.cfg.Image, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("pull image %s: %w", c.cfg.Image, err)
	}
	c.pulled = true
	return nil
}

// logs reads the finished container's output. It runs on a fresh context so
// it still works after the request context expired.
func (c *ContainerInvoker) logs(id string) ([]byte, []byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rc, err := c.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return stdout.Bytes(), stderr.Bytes(), err
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

func (c *ContainerInvoker) kill(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.cli.ContainerKill(ctx, id, "KILL"); err != nil {
		c.logger.Warn("failed to kill container", slog.String("container", shortID(id)), slog.String("error", err.Error()))
	}
}

func (c *ContainerInvoker) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		c.logger.Error("failed to remove container", slog.String("container", shortID(id)), slog.String("error", err.Error()))
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

var _ Invoker = (*ContainerInvoker)(nil)
