package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ngenohkevin/portguard/config"
	"github.com/ngenohkevin/portguard/internal/docker"
	"github.com/ngenohkevin/portguard/internal/metrics"
	"github.com/ngenohkevin/portguard/internal/ports"
	"github.com/ngenohkevin/portguard/internal/process"
	"github.com/ngenohkevin/portguard/internal/system"
	"github.com/ngenohkevin/portguard/internal/systemd"
)

// Version is the agent version reported by /health and /api/info
const Version = "1.0.0"

// HostInfoProvider returns host identification
type HostInfoProvider interface {
	HostInfo() (*system.HostInfo, error)
}

// UnitResolver maps a PID to its systemd unit
type UnitResolver interface {
	UnitForPID(ctx context.Context, pid uint32) (*systemd.UnitInfo, error)
}

// ContainerResolver finds containers publishing a port
type ContainerResolver interface {
	ContainersForPort(ctx context.Context, port uint16, transport string) (*docker.ContainerList, error)
}

// Deps are the collaborators the handlers act through. Units and
// Containers are optional.
type Deps struct {
	Scanner    ports.Finder
	Manager    *process.Manager
	Metrics    *metrics.Metrics
	Host       HostInfoProvider
	Units      UnitResolver
	Containers ContainerResolver
}

// Handlers holds all HTTP handlers
type Handlers struct {
	cfg  *config.Config
	deps Deps
}

// NewHandlers creates a new handlers instance
func NewHandlers(cfg *config.Config, deps Deps) *Handlers {
	return &Handlers{cfg: cfg, deps: deps}
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"version":   Version,
	})
}

// GetInfo handles GET /api/info
func (h *Handlers) GetInfo(c *gin.Context) {
	hostInfo, err := h.deps.Host.HostInfo()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	policy := h.deps.Manager.Policy()
	c.JSON(http.StatusOK, gin.H{
		"hostname":   hostInfo.Hostname,
		"os":         hostInfo.OS,
		"platform":   hostInfo.Platform,
		"kernel":     hostInfo.KernelVersion,
		"arch":       hostInfo.KernelArch,
		"uptime":     hostInfo.UptimeHuman,
		"privileged": hostInfo.Privileged,
		"agent":      "portguard",
		"version":    Version,
		"policy": gin.H{
			"protected_names":    policy.ProtectedNames(),
			"system_ports":       h.cfg.SystemPorts,
			"allow_system_ports": h.deps.Manager.AllowSystemPorts(),
		},
		"features": gin.H{
			"systemd": h.deps.Units != nil,
			"docker":  h.deps.Containers != nil,
		},
	})
}

// ListPorts handles GET /api/ports
func (h *Handlers) ListPorts(c *gin.Context) {
	transport, ok := parseProtocol(c, "")
	if !ok {
		return
	}

	var (
		views []ports.PortView
		err   error
	)
	if c.Query("listening") == "true" {
		views, err = h.deps.Scanner.ScanListening()
	} else {
		views, err = h.deps.Scanner.ScanAll()
	}
	if err != nil {
		scanFailed(c, err)
		return
	}

	if transport != "" {
		views = ports.FilterTransport(views, transport)
	}

	c.JSON(http.StatusOK, gin.H{
		"ports": views,
		"total": len(views),
	})
}

// ScanRange handles GET /api/ports/range
func (h *Handlers) ScanRange(c *gin.Context) {
	start, end, ok := parseRange(c)
	if !ok {
		return
	}
	transport, ok := parseProtocol(c, "tcp")
	if !ok {
		return
	}

	views, err := h.deps.Scanner.ScanRange(start, end, transport)
	if err != nil {
		scanFailed(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"start":    start,
		"end":      end,
		"protocol": transport,
		"ports":    views,
		"total":    len(views),
	})
}

// GetPort handles GET /api/ports/:port
func (h *Handlers) GetPort(c *gin.Context) {
	port, ok := parsePort(c)
	if !ok {
		return
	}
	transport, ok := parseProtocol(c, "")
	if !ok {
		return
	}

	views, err := h.deps.Scanner.FindByPort(port, transport)
	if err != nil {
		scanFailed(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"port":        port,
		"in_use":      len(views) > 0,
		"system_port": h.deps.Manager.Policy().IsSystemPort(port),
		"bindings":    views,
	})
}

// GetPortContainers handles GET /api/ports/:port/containers
func (h *Handlers) GetPortContainers(c *gin.Context) {
	if h.deps.Containers == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "docker not available"})
		return
	}

	port, ok := parsePort(c)
	if !ok {
		return
	}
	transport, ok := parseProtocol(c, "")
	if !ok {
		return
	}

	list, err := h.deps.Containers.ContainersForPort(c.Request.Context(), port, transport)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, list)
}

// GetProcess handles GET /api/processes/:pid
func (h *Handlers) GetProcess(c *gin.Context) {
	pid, ok := parsePID(c)
	if !ok {
		return
	}

	info, err := h.deps.Manager.Get(pid)
	if err != nil {
		processFailed(c, err)
		return
	}

	if h.deps.Units != nil {
		if unit, err := h.deps.Units.UnitForPID(c.Request.Context(), pid); err == nil {
			info.Unit = unit.Name
		}
	}

	c.JSON(http.StatusOK, info)
}

// ProcessesInRange handles GET /api/processes/range
func (h *Handlers) ProcessesInRange(c *gin.Context) {
	start, end, ok := parseRange(c)
	if !ok {
		return
	}

	byPort, err := h.deps.Manager.ProcessesInRange(start, end)
	if err != nil {
		scanFailed(c, err)
		return
	}

	result := make(map[string][]process.ProcessInfo, len(byPort))
	for port, procs := range byPort {
		result[strconv.Itoa(int(port))] = procs
	}

	c.JSON(http.StatusOK, gin.H{
		"start":     start,
		"end":       end,
		"processes": result,
		"total":     len(result),
	})
}

// KillProcess handles POST /api/processes/:pid/kill
func (h *Handlers) KillProcess(c *gin.Context) {
	pid, ok := parsePID(c)
	if !ok {
		return
	}

	var req process.KillRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	if !confirmed(c, req.Force, fmt.Sprintf("PID %d", pid)) {
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	outcome := h.deps.Manager.TerminateByPID(pid, req.Force, timeout)
	h.deps.Metrics.ObserveOutcomes(outcome)

	c.JSON(http.StatusOK, process.KillResponse{
		Outcomes: []process.TerminationOutcome{outcome},
		Total:    1,
	})
}

// KillPort handles POST /api/ports/:port/kill
func (h *Handlers) KillPort(c *gin.Context) {
	port, ok := parsePort(c)
	if !ok {
		return
	}

	var req process.PortKillRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if _, valid := ports.ParseTransport(req.Protocol); !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "protocol must be tcp or udp"})
		return
	}

	if !confirmed(c, req.Force, fmt.Sprintf("the owners of port %d", port)) {
		return
	}

	outcomes := h.deps.Manager.TerminateByPort(port, req.Protocol, req.Force)
	h.deps.Metrics.ObserveOutcomes(outcomes...)

	c.JSON(http.StatusOK, process.KillResponse{
		Outcomes: outcomes,
		Total:    len(outcomes),
	})
}

// StreamEvents handles GET /api/events (SSE scans)
func (h *Handlers) StreamEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	interval := h.cfg.RefreshInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	listening := c.Query("listening") == "true"
	ctx := c.Request.Context()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ticker.C:
			var (
				views []ports.PortView
				err   error
			)
			if listening {
				views, err = h.deps.Scanner.ScanListening()
			} else {
				views, err = h.deps.Scanner.ScanAll()
			}
			if err != nil {
				c.SSEvent("error", gin.H{"error": err.Error()})
				return true
			}
			data, _ := json.Marshal(gin.H{
				"timestamp": time.Now().UTC(),
				"ports":     views,
				"total":     len(views),
			})
			c.SSEvent("scan", string(data))
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// confirmed applies the confirmation gate: a non-forced termination must
// carry ?confirm=true
func confirmed(c *gin.Context, force bool, target string) bool {
	if force || c.Query("confirm") == "true" {
		return true
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error": fmt.Sprintf("terminating %s requires confirmation, add ?confirm=true to execute", target),
	})
	return false
}

func bindOptionalJSON(c *gin.Context, v interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	return true
}

func parsePID(c *gin.Context) (uint32, bool) {
	pid, err := strconv.ParseUint(c.Param("pid"), 10, 32)
	if err != nil || pid == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pid"})
		return 0, false
	}
	return uint32(pid), true
}

func parsePort(c *gin.Context) (uint16, bool) {
	port, err := parsePortValue(c.Param("port"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, false
	}
	return port, true
}

func parseRange(c *gin.Context) (uint16, uint16, bool) {
	start, err := parsePortValue(c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start: " + err.Error()})
		return 0, 0, false
	}
	end, err := parsePortValue(c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end: " + err.Error()})
		return 0, 0, false
	}
	if start > end {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must not exceed end"})
		return 0, 0, false
	}
	return start, end, true
}

func parsePortValue(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid port %q, expected 1-65535", s)
	}
	return uint16(n), nil
}

// parseProtocol validates ?protocol=, falling back to def when absent
func parseProtocol(c *gin.Context, def string) (string, bool) {
	name := c.DefaultQuery("protocol", def)
	if _, ok := ports.ParseTransport(name); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "protocol must be tcp or udp"})
		return "", false
	}
	return name, true
}

func scanFailed(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, ports.ErrScanUnavailable) {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func processFailed(c *gin.Context, err error) {
	switch {
	case errors.Is(err, process.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, process.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
