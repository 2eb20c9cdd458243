package ports

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	records  []ConnectionRecord
	procs    map[uint32]ProcessSnapshot
	err      error
	mu       sync.Mutex
	fetched  map[uint32]int
	listings int
}

func (f *fakeSource) ListConnections() ([]ConnectionRecord, error) {
	f.mu.Lock()
	f.listings++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]ConnectionRecord, len(f.records))
	copy(out, f.records)
	return out, nil
}

func (f *fakeSource) FetchProcess(pid uint32) ProcessSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetched == nil {
		f.fetched = make(map[uint32]int)
	}
	f.fetched[pid]++
	if snap, ok := f.procs[pid]; ok {
		return snap
	}
	return DegradedSnapshot(pid)
}

func sampleSource() *fakeSource {
	return &fakeSource{
		records: []ConnectionRecord{
			{LocalAddress: "0.0.0.0", LocalPort: 8080, Transport: TCP, State: StateListen, OwnerPID: 100},
			{LocalAddress: "0.0.0.0", LocalPort: 53, Transport: UDP, State: StateUnknown, OwnerPID: 200},
			{LocalAddress: "127.0.0.1", LocalPort: 5432, Transport: TCP, State: StateEstablished,
				RemoteAddress: "127.0.0.1", RemotePort: 40000, OwnerPID: 300},
			{LocalAddress: "::", LocalPort: 8080, Transport: TCP, State: StateListen, OwnerPID: 100},
			{LocalAddress: "0.0.0.0", LocalPort: 22, Transport: TCP, State: StateListen},
			{LocalAddress: "0.0.0.0", LocalPort: 0, Transport: TCP, State: StateListen, OwnerPID: 100},
			{LocalAddress: "0.0.0.0", LocalPort: 5353, Transport: UDP, State: StateUnknown, OwnerPID: 999},
		},
		procs: map[uint32]ProcessSnapshot{
			100: {PID: 100, Name: "node", Username: "dev"},
			200: {PID: 200, Name: "dnsmasq"},
			300: {PID: 300, Name: "postgres"},
		},
	}
}

func TestScanAll_SortedAndJoined(t *testing.T) {
	src := sampleSource()
	s := NewScanner(src, 2)

	views, err := s.ScanAll()
	require.NoError(t, err)
	require.Len(t, views, 6)

	var got []string
	for _, v := range views {
		got = append(got, v.Endpoint())
	}
	assert.Equal(t, []string{
		"0.0.0.0:22",
		"127.0.0.1:5432",
		"0.0.0.0:8080",
		"[::]:8080",
		"0.0.0.0:53",
		"0.0.0.0:5353",
	}, got)

	for _, v := range views {
		assert.GreaterOrEqual(t, v.LocalPort, uint16(1))
		assert.Contains(t, []Transport{TCP, UDP}, v.Transport)
	}

	assert.Nil(t, views[0].Process, "unattributed socket has no process")
	assert.Equal(t, "postgres", views[1].ProcessName())
	assert.Equal(t, "node", views[2].ProcessName())
	assert.Equal(t, "PID:999 (unavailable)", views[5].ProcessName())
	assert.True(t, views[5].Process.Degraded)
}

func TestScanAll_FetchesEachPIDOnce(t *testing.T) {
	src := sampleSource()
	s := NewScanner(src, 4)

	_, err := s.ScanAll()
	require.NoError(t, err)

	assert.Equal(t, 1, src.fetched[100])
	assert.Equal(t, 4, len(src.fetched))
}

func TestScanAll_FreshEnumerationPerCall(t *testing.T) {
	src := sampleSource()
	s := NewScanner(src, 0)

	_, err := s.ScanAll()
	require.NoError(t, err)
	_, err = s.ScanListening()
	require.NoError(t, err)
	_, err = s.FindByPort(8080, "")
	require.NoError(t, err)

	assert.Equal(t, 3, src.listings)
}

func TestScanAll_PropagatesUnavailable(t *testing.T) {
	src := &fakeSource{err: ErrScanUnavailable}
	s := NewScanner(src, 1)

	_, err := s.ScanAll()
	assert.True(t, errors.Is(err, ErrScanUnavailable))
}

func TestScanAll_Empty(t *testing.T) {
	s := NewScanner(&fakeSource{}, 1)

	views, err := s.ScanAll()
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestScanListening(t *testing.T) {
	s := NewScanner(sampleSource(), 1)

	all, err := s.ScanAll()
	require.NoError(t, err)
	listening, err := s.ScanListening()
	require.NoError(t, err)

	expected := 0
	for _, v := range all {
		if v.State == StateListen {
			expected++
		}
	}
	assert.Len(t, listening, expected)
	for _, v := range listening {
		assert.Equal(t, StateListen, v.State)
	}
}

func TestFilterTransport(t *testing.T) {
	views := []PortView{
		{ConnectionRecord: ConnectionRecord{LocalPort: 0, Transport: UDP}},
		{ConnectionRecord: ConnectionRecord{LocalPort: 80, Transport: TCP}},
		{ConnectionRecord: ConnectionRecord{LocalPort: 53, Transport: UDP}},
	}

	assert.Len(t, FilterTransport(views, ""), 3)
	assert.Len(t, FilterTransport(views, "udp"), 2)
	tcp := FilterTransport(views, "TCP")
	require.Len(t, tcp, 1)
	assert.Equal(t, uint16(80), tcp[0].LocalPort)
}

func TestScanRange(t *testing.T) {
	s := NewScanner(sampleSource(), 1)

	views, err := s.ScanRange(1, 6000, "tcp")
	require.NoError(t, err)
	require.Len(t, views, 2)
	for _, v := range views {
		assert.Equal(t, TCP, v.Transport)
		assert.True(t, v.LocalPort >= 1 && v.LocalPort <= 6000)
	}

	views, err = s.ScanRange(50, 60, "UdP")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, uint16(53), views[0].LocalPort)

	views, err = s.ScanRange(9000, 10000, "tcp")
	require.NoError(t, err)
	assert.Empty(t, views)

	all, err := s.ScanAll()
	require.NoError(t, err)
	views, err = s.ScanRange(1, 65535, "")
	require.NoError(t, err)
	assert.Len(t, views, len(all))
}

func TestFindByPort(t *testing.T) {
	s := NewScanner(sampleSource(), 1)

	views, err := s.FindByPort(8080, "")
	require.NoError(t, err)
	assert.Len(t, views, 2)

	views, err = s.FindByPort(8080, "udp")
	require.NoError(t, err)
	assert.Empty(t, views)

	views, err = s.FindByPort(53, "UDP")
	require.NoError(t, err)
	assert.Len(t, views, 1)
}

func TestSortViews_StableForTies(t *testing.T) {
	views := []PortView{
		{ConnectionRecord: ConnectionRecord{LocalAddress: "b", LocalPort: 80, Transport: TCP}},
		{ConnectionRecord: ConnectionRecord{LocalAddress: "x", LocalPort: 10, Transport: UDP}},
		{ConnectionRecord: ConnectionRecord{LocalAddress: "a", LocalPort: 80, Transport: TCP}},
	}

	SortViews(views)

	assert.Equal(t, "b", views[0].LocalAddress)
	assert.Equal(t, "a", views[1].LocalAddress)
	assert.Equal(t, UDP, views[2].Transport)
}

func TestParseState(t *testing.T) {
	assert.Equal(t, StateListen, ParseState("LISTEN"))
	assert.Equal(t, StateTimeWait, ParseState("time_wait"))
	assert.Equal(t, StateUnknown, ParseState("NONE"))
	assert.Equal(t, StateUnknown, ParseState("CLOSE"))
	assert.Equal(t, StateUnknown, ParseState(""))
}

func TestParseTransport(t *testing.T) {
	tr, ok := ParseTransport("tcp")
	assert.True(t, ok)
	assert.Equal(t, TCP, tr)

	tr, ok = ParseTransport("")
	assert.True(t, ok)
	assert.Equal(t, Transport(""), tr)

	_, ok = ParseTransport("sctp")
	assert.False(t, ok)
}
