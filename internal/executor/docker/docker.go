// Package docker runs snippets inside throwaway Docker containers.
//
// SANDBOX:
// Every run gets a fresh container from a per-image pool: no network,
// read-only root filesystem, a small noexec tmpfs at /tmp, the nobody user,
// and memory, CPU, process and wall-clock limits. The container is removed
// after one run, so nothing a snippet writes survives into the next.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/codesnip/internal/executor"
)

const truncatedNotice = "\n[output truncated]\n"

var _ executor.Executor = (*Executor)(nil)

// Executor implements executor.Executor with one pool per runtime image.
type Executor struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
	pools  map[string]*Pool // keyed by image
}

// New connects to the daemon, makes sure every runtime image is present and
// starts the pools. It fails when Docker is unreachable; callers treat that
// as "runner disabled".
func New(cfg Config, logger *slog.Logger) (*Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker: creating client: %w", err)
	}

	images := cfg.Images
	if len(images) == 0 {
		images = executor.Images()
	}

	for _, img := range images {
		if err := pullImage(cli, img, logger); err != nil {
			cli.Close()
			return nil, err
		}
	}

	e := &Executor{
		cli:    cli,
		config: cfg,
		logger: logger,
		pools:  make(map[string]*Pool, len(images)),
	}
	for _, img := range images {
		pool := NewPool(cli, img, cfg, logger)
		pool.Start()
		e.pools[img] = pool
	}

	return e, nil
}

func pullImage(cli *client.Client, img string, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	logger.Info("pulling runtime image", slog.String("image", img))
	reader, err := cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("docker: pulling %s: %w", img, err)
	}
	defer reader.Close()

	// The pull is only finished once the progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("docker: pulling %s: %w", img, err)
	}
	return nil
}

// Close stops every pool and the client.
func (e *Executor) Close() error {
	for _, pool := range e.pools {
		pool.Stop()
	}
	return e.cli.Close()
}

// Execute runs req.Code with the runtime registered for req.Language.
//
// A program that fails or times out is a normal Result (non-zero exit code,
// 124 for timeouts). Only sandbox failures are returned as errors.
func (e *Executor) Execute(ctx context.Context, req executor.Request) (*executor.Result, error) {
	rt, ok := executor.RuntimeFor(req.Language)
	if !ok {
		return nil, fmt.Errorf("%w: %q", executor.ErrUnsupportedLanguage, req.Language)
	}
	pool, ok := e.pools[rt.Image]
	if !ok {
		return nil, fmt.Errorf("%w: image %s is not pooled", executor.ErrUnsupportedLanguage, rt.Image)
	}

	start := time.Now()

	id, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("docker: acquiring container: %w", err)
	}
	defer pool.Discard(id)

	runCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	execResp, err := e.cli.ContainerExecCreate(runCtx, id, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          rt.Command(req.Code),
	})
	if err != nil {
		return nil, fmt.Errorf("docker: creating exec: %w", err)
	}

	attach, err := e.cli.ContainerExecAttach(runCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("docker: attaching exec: %w", err)
	}
	defer attach.Close()

	stdout := newCappedBuffer(e.config.MaxOutputBytes)
	stderr := newCappedBuffer(e.config.MaxOutputBytes)

	done := make(chan struct{})
	go func() {
		_, _ = stdcopy.StdCopy(stdout, stderr, attach.Reader)
		close(done)
	}()

	exitCode := 0
	timedOut := false

	select {
	case <-done:
		inspect, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
		if err != nil {
			return nil, fmt.Errorf("docker: inspecting exec: %w", err)
		}
		exitCode = inspect.ExitCode
	case <-runCtx.Done():
		timedOut = true
		exitCode = executor.TimeoutExitCode
		// Closing the hijacked connection unblocks StdCopy so the buffers
		// are safe to read.
		attach.Close()
		<-done
	}

	errText := stderr.String()
	if timedOut {
		errText += "\nExecution timed out.\n"
	}

	return &executor.Result{
		Stdout:   stdout.String(),
		Stderr:   errText,
		ExitCode: exitCode,
		Duration: time.Since(start),
	}, nil
}

// cappedBuffer keeps the first limit bytes written to it and silently drops
// the rest. Write always reports success so stdcopy keeps draining the
// stream.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if c.limit <= 0 {
		return c.buf.Write(p)
	}
	if room := c.limit - c.buf.Len(); room < len(p) {
		c.truncated = true
		if room > 0 {
			c.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return c.buf.Write(p)
}

func (c *cappedBuffer) String() string {
	if c.truncated {
		return c.buf.String() + truncatedNotice
	}
	return c.buf.String()
}
