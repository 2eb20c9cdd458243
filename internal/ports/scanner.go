package ports

import (
	"sort"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds concurrent process metadata reads during a scan
const DefaultWorkers = 8

// Finder is the query surface of a Scanner
type Finder interface {
	ScanAll() ([]PortView, error)
	ScanListening() ([]PortView, error)
	ScanRange(start, end uint16, transport string) ([]PortView, error)
	FindByPort(port uint16, transport string) ([]PortView, error)
}

// Scanner correlates sockets with their owning processes. Every query runs a
// fresh enumeration; nothing is cached between calls.
type Scanner struct {
	source  Source
	workers int
}

// NewScanner creates a scanner over the given source
func NewScanner(source Source, workers int) *Scanner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Scanner{
		source:  source,
		workers: workers,
	}
}

// ScanAll returns every socket joined with its process, sorted by
// (transport, local port). Ties keep enumeration order.
func (s *Scanner) ScanAll() ([]PortView, error) {
	records, err := s.source.ListConnections()
	if err != nil {
		return nil, err
	}

	snapshots := s.fetchProcesses(records)

	views := make([]PortView, 0, len(records))
	for _, rec := range records {
		if rec.LocalPort == 0 {
			continue
		}
		view := PortView{ConnectionRecord: rec}
		if rec.HasOwner() {
			if snap, ok := snapshots[rec.OwnerPID]; ok {
				view.Process = &snap
			}
		}
		views = append(views, view)
	}

	SortViews(views)
	return views, nil
}

// fetchProcesses reads each distinct owner PID once
func (s *Scanner) fetchProcesses(records []ConnectionRecord) map[uint32]ProcessSnapshot {
	var pids []uint32
	seen := make(map[uint32]bool)
	for _, rec := range records {
		if rec.HasOwner() && !seen[rec.OwnerPID] {
			seen[rec.OwnerPID] = true
			pids = append(pids, rec.OwnerPID)
		}
	}

	results := make([]ProcessSnapshot, len(pids))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, pid := range pids {
		g.Go(func() error {
			results[i] = s.source.FetchProcess(pid)
			return nil
		})
	}
	_ = g.Wait()

	snapshots := make(map[uint32]ProcessSnapshot, len(pids))
	for i, pid := range pids {
		snapshots[pid] = results[i]
	}
	return snapshots
}

// ScanListening returns the views in LISTEN state
func (s *Scanner) ScanListening() ([]PortView, error) {
	views, err := s.ScanAll()
	if err != nil {
		return nil, err
	}
	return FilterListening(views), nil
}

// ScanRange returns the views with start <= port <= end on the given transport
func (s *Scanner) ScanRange(start, end uint16, transport string) ([]PortView, error) {
	views, err := s.ScanAll()
	if err != nil {
		return nil, err
	}
	return FilterRange(views, start, end, transport), nil
}

// FindByPort returns the views bound to port. An empty transport matches both.
func (s *Scanner) FindByPort(port uint16, transport string) ([]PortView, error) {
	views, err := s.ScanAll()
	if err != nil {
		return nil, err
	}
	return FilterPort(views, port, transport), nil
}

// SortViews orders views by (transport, local port), keeping ties stable
func SortViews(views []PortView) {
	sort.SliceStable(views, func(i, j int) bool {
		if views[i].Transport != views[j].Transport {
			return views[i].Transport < views[j].Transport
		}
		return views[i].LocalPort < views[j].LocalPort
	})
}

// FilterListening keeps the views in LISTEN state
func FilterListening(views []PortView) []PortView {
	return filter(views, func(v PortView) bool {
		return v.State == StateListen
	})
}

// FilterTransport keeps the views on transport; "" keeps all
func FilterTransport(views []PortView, transport string) []PortView {
	if transport == "" {
		return views
	}
	return filter(views, func(v PortView) bool {
		return v.Transport.Matches(transport)
	})
}

// FilterRange keeps the views with start <= port <= end, optionally on one
// transport
func FilterRange(views []PortView, start, end uint16, transport string) []PortView {
	return filter(views, func(v PortView) bool {
		if v.LocalPort < start || v.LocalPort > end {
			return false
		}
		return transport == "" || v.Transport.Matches(transport)
	})
}

// FilterPort keeps the views bound to port, optionally on one transport
func FilterPort(views []PortView, port uint16, transport string) []PortView {
	return filter(views, func(v PortView) bool {
		if v.LocalPort != port {
			return false
		}
		return transport == "" || v.Transport.Matches(transport)
	})
}

func filter(views []PortView, keep func(PortView) bool) []PortView {
	result := make([]PortView, 0)
	for _, v := range views {
		if keep(v) {
			result = append(result, v)
		}
	}
	return result
}
