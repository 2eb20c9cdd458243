package docker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/ngenohkevin/portguard/internal/cache"
)

const containersTTL = 5 * time.Second

// apiClient is the subset of the docker client used here
type apiClient interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	Close() error
}

// Resolver finds containers that publish a host port. A port held by
// docker-proxy is usually better freed by stopping the container.
type Resolver struct {
	client apiClient
	cache  *cache.Cache[[]ContainerInfo]
}

// NewResolver creates a resolver using the environment's docker settings
func NewResolver() (*Resolver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return newResolver(cli), nil
}

func newResolver(c apiClient) *Resolver {
	return &Resolver{
		client: c,
		cache:  cache.New[[]ContainerInfo](containersTTL),
	}
}

// IsAvailable checks if Docker is reachable
func (r *Resolver) IsAvailable(ctx context.Context) bool {
	_, err := r.client.Ping(ctx)
	return err == nil
}

// Close closes the Docker client
func (r *Resolver) Close() error {
	r.cache.Close()
	return r.client.Close()
}

// ContainersForPort returns the running containers publishing port.
// An empty transport matches both tcp and udp bindings.
func (r *Resolver) ContainersForPort(ctx context.Context, port uint16, transport string) (*ContainerList, error) {
	all, err := r.cache.GetOrSet(cache.KeyContainers, func() ([]ContainerInfo, error) {
		return r.list(ctx)
	})
	if err != nil {
		return nil, err
	}

	result := &ContainerList{Port: port, Containers: []ContainerInfo{}}
	for _, c := range all {
		if publishes(c, port, transport) {
			result.Containers = append(result.Containers, c)
		}
	}
	result.Total = len(result.Containers)
	return result, nil
}

func publishes(c ContainerInfo, port uint16, transport string) bool {
	for _, p := range c.Ports {
		if p.PublicPort != port {
			continue
		}
		if transport == "" || strings.EqualFold(p.Type, transport) {
			return true
		}
	}
	return false
}

func (r *Resolver) list(ctx context.Context) ([]ContainerInfo, error) {
	containers, err := r.client.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	result := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		info := ContainerInfo{
			ID:     shortID(c.ID),
			Image:  c.Image,
			State:  c.State,
			Status: c.Status,
		}
		if len(c.Names) > 0 {
			info.Name = strings.TrimPrefix(c.Names[0], "/")
		}

		for _, p := range c.Ports {
			info.Ports = append(info.Ports, PortBinding{
				PrivatePort: p.PrivatePort,
				PublicPort:  p.PublicPort,
				Type:        p.Type,
				IP:          p.IP,
			})
		}

		result = append(result, info)
	}

	return result, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
