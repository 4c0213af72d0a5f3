package toolchain

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDocker struct {
	mu        sync.Mutex
	pulls     int
	created   []*container.Config
	hosts     []*container.HostConfig
	removed   []string
	killed    []string
	createErr error
	exitCode  int64
	block     bool    // never report the container as exited
	pullErrs  []error // returned by successive pulls, then nil
	onPull    func(context.Context)
	slowStart bool // ContainerStart blocks until its context ends
	stdout    string
	stderr    string
}

func (f *fakeDocker) ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error) {
	if f.onPull != nil {
		f.onPull(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	if len(f.pullErrs) > 0 {
		err := f.pullErrs[0]
		f.pullErrs = f.pullErrs[1:]
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	f.created = append(f.created, config)
	f.hosts = append(f.hosts, hostConfig)
	return container.CreateResponse{ID: "0123456789abcdef"}, nil
}

func (f *fakeDocker) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	if f.slowStart {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeDocker) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	if f.block {
		go func() {
			<-ctx.Done()
			errCh <- ctx.Err()
		}()
		return statusCh, errCh
	}
	statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	return statusCh, errCh
}

func (f *fakeDocker) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	if f.stdout != "" {
		stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	}
	if f.stderr != "" {
		stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeDocker) ContainerKill(ctx context.Context, containerID, signal string) error {
	f.mu.Lock()
	f.killed = append(f.killed, containerID)
	f.mu.Unlock()
	return nil
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	f.removed = append(f.removed, containerID)
	f.mu.Unlock()
	return nil
}

func (f *fakeDocker) Close() error { return nil }

func TestContainerInvokerRunsWithLimits(t *testing.T) {
	fake := &fakeDocker{stdout: "hello\n", stderr: "   Compiling playground\n"}
	cfg := DefaultContainerConfig()
	cfg.Pull = true
	c := newContainerInvoker(fake, "cargo", cfg, quietLogger())

	for i := 0; i < 2; i++ {
		out, err := c.Invoke(context.Background(), Invocation{Dir: "/tmp/crucible-1", Args: []string{"run", "--quiet"}})
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, "hello\n", out.Stdout)
		assert.Equal(t, "   Compiling playground\n", out.Stderr)
	}

	assert.Equal(t, 1, fake.pulls, "image pulled once")
	require.Len(t, fake.created, 2)
	assert.Equal(t, []string{"cargo", "run", "--quiet"}, []string(fake.created[0].Cmd))
	assert.Equal(t, "/workspace", fake.created[0].WorkingDir)

	host := fake.hosts[0]
	assert.Equal(t, []string{"/tmp/crucible-1:/workspace:rw"}, host.Binds)
	assert.Equal(t, container.NetworkMode("none"), host.NetworkMode)
	assert.Equal(t, int64(500*1024*1024), host.Resources.Memory)
	assert.Equal(t, int64(1e9), host.Resources.NanoCPUs)
	assert.Len(t, fake.removed, 2)
}

func TestContainerInvokerNonZeroExit(t *testing.T) {
	fake := &fakeDocker{exitCode: 101, stderr: "error: could not compile\n"}
	c := newContainerInvoker(fake, "cargo", ContainerConfig{}, quietLogger())

	out, err := c.Invoke(context.Background(), Invocation{Dir: "/tmp/p", Args: []string{"check"}})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, 101, out.ExitCode)
	assert.Contains(t, out.Stderr, "could not compile")
}

func TestContainerInvokerTimeout(t *testing.T) {
	fake := &fakeDocker{block: true, stdout: "partial"}
	c := newContainerInvoker(fake, "cargo", ContainerConfig{}, quietLogger())

	out, err := c.Invoke(context.Background(), Invocation{Dir: "/tmp/p", Args: []string{"run"}, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, out.TimedOut)
	assert.Equal(t, ExitCodeTimeout, out.ExitCode)
	assert.Equal(t, "partial", out.Stdout)
	assert.Contains(t, out.Stderr, "timed out")
	assert.Len(t, fake.killed, 1)
	assert.Len(t, fake.removed, 1)
}

func TestContainerInvokerCreateFailure(t *testing.T) {
	fake := &fakeDocker{createErr: errors.New("Cannot connect to the Docker daemon")}
	c := newContainerInvoker(fake, "cargo", ContainerConfig{}, quietLogger())

	_, err := c.Invoke(context.Background(), Invocation{Dir: "/tmp/p", Args: []string{"check"}})
	require.Error(t, err)
	assert.True(t, IsInvocationError(err))
	assert.Empty(t, fake.removed)
}

func TestContainerInvokerRetriesFailedPull(t *testing.T) {
	fake := &fakeDocker{pullErrs: []error{errors.New("registry temporarily unavailable")}}
	cfg := DefaultContainerConfig()
	cfg.Pull = true
	c := newContainerInvoker(fake, "cargo", cfg, quietLogger())
	inv := Invocation{Dir: "/tmp/p", Args: []string{"run"}}

	_, err := c.Invoke(context.Background(), inv)
	require.Error(t, err)
	assert.True(t, IsInvocationError(err))
	assert.Empty(t, fake.created)

	out, err := c.Invoke(context.Background(), inv)
	require.NoError(t, err)
	assert.True(t, out.Success)

	_, err = c.Invoke(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.pulls, "a successful pull is not repeated")
}

func TestContainerInvokerPullOutlivesCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var pullCtxErr error
	fake := &fakeDocker{onPull: func(pullCtx context.Context) {
		cancel()
		pullCtxErr = pullCtx.Err()
	}}
	cfg := DefaultContainerConfig()
	cfg.Pull = true
	c := newContainerInvoker(fake, "cargo", cfg, quietLogger())

	_, _ = c.Invoke(ctx, Invocation{Dir: "/tmp/p", Args: []string{"run"}})
	assert.NoError(t, pullCtxErr, "pull must not inherit the caller's cancellation")

	_, err := c.Invoke(context.Background(), Invocation{Dir: "/tmp/p", Args: []string{"run"}})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.pulls)
}

func TestContainerInvokerStartTimeout(t *testing.T) {
	fake := &fakeDocker{slowStart: true}
	c := newContainerInvoker(fake, "cargo", ContainerConfig{}, quietLogger())

	out, err := c.Invoke(context.Background(), Invocation{Dir: "/tmp/p", Args: []string{"run"}, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, out.TimedOut)
	assert.Equal(t, ExitCodeTimeout, out.ExitCode)
	assert.Len(t, fake.removed, 1)
}

func TestContainerInvokerStartCancelled(t *testing.T) {
	fake := &fakeDocker{slowStart: true}
	c := newContainerInvoker(fake, "cargo", ContainerConfig{}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := c.Invoke(ctx, Invocation{Dir: "/tmp/p", Args: []string{"run"}, Timeout: time.Minute})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsInvocationError(err))
	assert.Len(t, fake.removed, 1)
}
