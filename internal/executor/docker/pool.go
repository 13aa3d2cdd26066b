package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// poolLabel marks every container a pool creates, valued with the image.
// Start removes labelled leftovers from a previous process, which assumes
// one CodeSnip server per Docker host.
const poolLabel = "codesnip.pool"

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

var errPoolClosed = errors.New("docker: pool closed")

// Pool keeps up to PoolSize idle containers of one image. Containers are
// single use: Acquire hands one out, the caller Discards it after the run and
// the filler replaces it.
//
// REFILL, NOT POLL:
// The filler goroutine tops the pool up, then sleeps on the refill channel.
// Acquire nudges it, so an idle server makes no Docker calls at all.
type Pool struct {
	cli    *client.Client
	image  string
	config Config
	logger *slog.Logger

	ready  chan string
	refill chan struct{}
	done   chan struct{}

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewPool(cli *client.Client, img string, cfg Config, logger *slog.Logger) *Pool {
	return &Pool{
		cli:    cli,
		image:  img,
		config: cfg,
		logger: logger.With(slog.String("image", img)),
		ready:  make(chan string, max(cfg.PoolSize, 1)),
		refill: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start prunes leftovers and launches the filler. Safe to call twice.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.prune()
		p.logger.Info("starting container pool", slog.Int("size", cap(p.ready)))
		p.wg.Add(1)
		go p.fill()
	})
}

// Stop ends the filler and removes every idle container. Containers already
// handed out are the caller's to Discard.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		for {
			select {
			case id := <-p.ready:
				p.remove(id)
			default:
				p.logger.Info("container pool stopped")
				return
			}
		}
	})
}

// Acquire blocks until an idle container is available, ctx ends or the pool
// is stopped.
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	select {
	case id := <-p.ready:
		p.nudge()
		return id, nil
	case <-p.done:
		return "", errPoolClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Discard force-removes a used container.
func (p *Pool) Discard(id string) {
	p.remove(id)
}

func (p *Pool) nudge() {
	select {
	case p.refill <- struct{}{}:
	default: // a nudge is already pending
	}
}

func (p *Pool) fill() {
	defer p.wg.Done()

	backoff := minBackoff
	for {
		for len(p.ready) < cap(p.ready) {
			select {
			case <-p.done:
				return
			default:
			}

			id, err := p.create()
			if err != nil {
				p.logger.Error("failed to create container",
					slog.Duration("retryIn", backoff),
					slog.String("error", err.Error()),
				)
				select {
				case <-time.After(backoff):
				case <-p.done:
					return
				}
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			backoff = minBackoff

			select {
			case p.ready <- id:
			case <-p.done:
				p.remove(id)
				return
			}
		}

		select {
		case <-p.refill:
		case <-p.done:
			return
		}
	}
}

// create starts an idle container. The snippet itself runs later through
// docker exec, so the container only needs to stay alive.
func (p *Pool) create() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hostConfig := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,noexec,nosuid,size=16m"},
		Resources: container.Resources{
			Memory:    p.config.MemoryLimit,
			NanoCPUs:  int64(p.config.CPULimit * 1e9),
			PidsLimit: &p.config.PidsLimit,
		},
	}

	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image:      p.image,
		Cmd:        []string{"sleep", "infinity"},
		User:       "nobody",
		WorkingDir: "/tmp",
		Labels:     map[string]string{poolLabel: p.image},
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("docker: creating container: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.remove(resp.ID)
		return "", fmt.Errorf("docker: starting container: %w", err)
	}

	return resp.ID, nil
}

// prune removes containers this pool's label left behind, e.g. after a crash.
func (p *Pool) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stale, err := p.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", poolLabel+"="+p.image)),
	})
	if err != nil {
		p.logger.Warn("listing stale containers failed", slog.String("error", err.Error()))
		return
	}
	for _, c := range stale {
		p.remove(c.ID)
	}
	if len(stale) > 0 {
		p.logger.Info("removed stale containers", slog.Int("count", len(stale)))
	}
}

func (p *Pool) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		p.logger.Warn("failed to remove container", slog.String("id", id), slog.String("error", err.Error()))
	}
}
