package cli

import (
	"context"
	"log"
	"time"

	"github.com/ngenohkevin/portguard/config"
	"github.com/ngenohkevin/portguard/internal/docker"
	"github.com/ngenohkevin/portguard/internal/metrics"
	"github.com/ngenohkevin/portguard/internal/ports"
	"github.com/ngenohkevin/portguard/internal/process"
	"github.com/ngenohkevin/portguard/internal/server"
	"github.com/ngenohkevin/portguard/internal/system"
	"github.com/ngenohkevin/portguard/internal/systemd"
)

// Engine bundles the scanner, the termination manager and the optional
// resolvers every command works with
type Engine struct {
	server.Deps
	closers []func()
}

// Close releases the engine's resolvers
func (e *Engine) Close() {
	for _, c := range e.closers {
		c()
	}
}

// NewEngine wires the live system implementations according to cfg
func NewEngine(cfg *config.Config) (*Engine, error) {
	m := metrics.New()
	source := ports.NewSystemSource()
	scanner := metrics.InstrumentScanner(ports.NewScanner(source, cfg.ScanWorkers), m)
	policy := process.NewPolicy(source, cfg.Policy())
	manager := process.NewManager(scanner, policy, process.NewSystemController(), cfg.ManagerOptions())

	host := system.NewCollector()
	e := &Engine{
		Deps: server.Deps{
			Scanner: scanner,
			Manager: manager,
			Metrics: m,
			Host:    host,
		},
		closers: []func(){host.Close},
	}

	if cfg.SystemdEnabled {
		units := systemd.NewResolver()
		e.Units = units
		e.closers = append(e.closers, units.Close)
	}

	if cfg.DockerEnabled {
		if d, ok := dockerResolver(); ok {
			e.Containers = d
			e.closers = append(e.closers, func() { _ = d.Close() })
		}
	}

	return e, nil
}

func dockerResolver() (*docker.Resolver, bool) {
	d, err := docker.NewResolver()
	if err != nil {
		log.Printf("[docker] disabled: %v", err)
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !d.IsAvailable(ctx) {
		log.Printf("[docker] daemon not reachable, container lookups disabled")
		_ = d.Close()
		return nil, false
	}
	return d, true
}
