package metrics

import (
	"time"

	"github.com/ngenohkevin/portguard/internal/ports"
)

// Scanner records every query of the wrapped finder
type Scanner struct {
	inner   ports.Finder
	metrics *Metrics
}

// InstrumentScanner wraps inner so each query is timed and counted
func InstrumentScanner(inner ports.Finder, m *Metrics) *Scanner {
	return &Scanner{inner: inner, metrics: m}
}

// ScanAll scans every socket and refreshes the socket gauges
func (s *Scanner) ScanAll() ([]ports.PortView, error) {
	start := time.Now()
	views, err := s.inner.ScanAll()
	s.metrics.ObserveScan(time.Since(start), err)
	if err == nil {
		s.metrics.SetSockets(views)
	}
	return views, err
}

// ScanListening scans listening sockets
func (s *Scanner) ScanListening() ([]ports.PortView, error) {
	start := time.Now()
	views, err := s.inner.ScanListening()
	s.metrics.ObserveScan(time.Since(start), err)
	return views, err
}

// ScanRange scans a port range
func (s *Scanner) ScanRange(start, end uint16, transport string) ([]ports.PortView, error) {
	began := time.Now()
	views, err := s.inner.ScanRange(start, end, transport)
	s.metrics.ObserveScan(time.Since(began), err)
	return views, err
}

// FindByPort resolves a single port
func (s *Scanner) FindByPort(port uint16, transport string) ([]ports.PortView, error) {
	start := time.Now()
	views, err := s.inner.FindByPort(port, transport)
	s.metrics.ObserveScan(time.Since(start), err)
	return views, err
}
