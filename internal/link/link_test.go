package link

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"

	"github.com/relabs-tech/joypose/internal/frame"
)

// fakePort is an in-memory serial port: the test writes, the manager reads.
type fakePort struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	once   sync.Once
	closed chan struct{}
}

func newFakePort() *fakePort {
	r, w := io.Pipe()
	return &fakePort{r: r, w: w, closed: make(chan struct{})}
}

func (f *fakePort) Read(p []byte) (int, error) { return f.r.Read(p) }

func (f *fakePort) Close() error {
	f.once.Do(func() {
		close(f.closed)
		_ = f.r.Close()
	})
	return nil
}

func (f *fakePort) send(t *testing.T, s string) {
	t.Helper()
	_, err := f.w.Write([]byte(s))
	require.NoError(t, err)
}

// write is send for use off the test goroutine.
func (f *fakePort) write(s string) {
	_, _ = f.w.Write([]byte(s))
}

func (f *fakePort) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// scriptedOpener hands out the given ports in order.
type scriptedOpener struct {
	mu    sync.Mutex
	ports []*fakePort
	paths []string
}

func (o *scriptedOpener) open(_ context.Context, path string, _ int) (Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paths = append(o.paths, path)
	if len(o.ports) == 0 {
		return nil, errors.New("no such device")
	}
	p := o.ports[0]
	o.ports = o.ports[1:]
	return p, nil
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(ls LinkState) {
	r.mu.Lock()
	r.states = append(r.states, ls.State)
	r.mu.Unlock()
}

func (r *stateRecorder) get() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func newTestManager(opener Opener, rec *stateRecorder) *Manager {
	opts := Options{
		BaudRate:         9600,
		ConnectTimeout:   time.Second,
		ReadTimeout:      20 * time.Millisecond,
		TimeoutThreshold: 3,
		Discoverer:       FixedPort("/dev/ttyFAKE0"),
		Opener:           opener,
	}
	if rec != nil {
		opts.OnStateChange = rec.record
	}
	return NewManager(opts)
}

func queued(m *Manager) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return 0
	}
	return len(m.conn.lines)
}

func TestOpen_Connects(t *testing.T) {
	port := newFakePort()
	opener := &scriptedOpener{ports: []*fakePort{port}}
	rec := &stateRecorder{}
	m := newTestManager(opener.open, rec)
	defer m.Close()

	assert.Equal(t, Disconnected, m.State().State)
	require.NoError(t, m.Open(context.Background()))

	st := m.State()
	assert.Equal(t, Connected, st.State)
	assert.Equal(t, "/dev/ttyFAKE0", st.Port)
	assert.Equal(t, []State{Connecting, Connected}, rec.get())
	assert.Equal(t, []string{"/dev/ttyFAKE0"}, opener.paths)

	// already connected: no-op
	require.NoError(t, m.Open(context.Background()))
	assert.Len(t, opener.paths, 1)
}

func TestReadLine_ReturnsLine(t *testing.T) {
	port := newFakePort()
	m := newTestManager((&scriptedOpener{ports: []*fakePort{port}}).open, nil)
	defer m.Close()
	require.NoError(t, m.Open(context.Background()))

	go port.write("512,600,1\r\n")

	m.opts.ReadTimeout = time.Second
	line, err := m.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "512,600,1", line)
}

func TestReadLine_NewestQueuedLineWins(t *testing.T) {
	port := newFakePort()
	m := newTestManager((&scriptedOpener{ports: []*fakePort{port}}).open, nil)
	defer m.Close()
	require.NoError(t, m.Open(context.Background()))

	port.send(t, "1,1,0\n2,2,0\n3,3,0\n")
	require.Eventually(t, func() bool { return queued(m) == 3 }, time.Second, time.Millisecond)

	line, err := m.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3,3,0", line)
	assert.Zero(t, queued(m))
}

func TestReadLine_PartialLineIsHeldBack(t *testing.T) {
	port := newFakePort()
	m := newTestManager((&scriptedOpener{ports: []*fakePort{port}}).open, nil)
	defer m.Close()
	require.NoError(t, m.Open(context.Background()))

	port.send(t, "100,2")
	_, err := m.ReadLine(context.Background())
	require.ErrorIs(t, err, ErrNoData)

	port.send(t, "00,0\n")
	m.opts.ReadTimeout = time.Second
	line, err := m.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "100,200,0", line)
}

func TestReadLine_TimeoutsDegradeThenReconnect(t *testing.T) {
	first, second := newFakePort(), newFakePort()
	rec := &stateRecorder{}
	m := newTestManager((&scriptedOpener{ports: []*fakePort{first, second}}).open, rec)
	defer m.Close()
	require.NoError(t, m.Open(context.Background()))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		start := time.Now()
		_, err := m.ReadLine(ctx)
		require.ErrorIs(t, err, ErrNoData)
		assert.Less(t, time.Since(start), 500*time.Millisecond, "read must be bounded")
		assert.Equal(t, Connected, m.State().State)
	}

	_, err := m.ReadLine(ctx)
	require.ErrorIs(t, err, ErrLinkDown)

	st := m.State()
	assert.Equal(t, Degraded, st.State)
	assert.Contains(t, st.Reason, "no data for 3 reads")
	assert.True(t, first.isClosed(), "stale handle must be closed")

	_, err = m.ReadLine(ctx)
	require.ErrorIs(t, err, ErrLinkDown)

	require.NoError(t, m.Open(ctx))
	assert.Equal(t, Connected, m.State().State)
	assert.Equal(t, []State{Connecting, Connected, Degraded, Connecting, Connected}, rec.get())
}

func TestReadLine_FrameOKResetsTimeoutCount(t *testing.T) {
	port := newFakePort()
	m := newTestManager((&scriptedOpener{ports: []*fakePort{port}}).open, nil)
	defer m.Close()
	require.NoError(t, m.Open(context.Background()))
	ctx := context.Background()

	for round := 0; round < 3; round++ {
		for i := 0; i < 2; i++ {
			_, err := m.ReadLine(ctx)
			require.ErrorIs(t, err, ErrNoData)
		}
		port.send(t, "512,512,0\n")
		require.Eventually(t, func() bool { return queued(m) == 1 }, time.Second, time.Millisecond)
		line, err := m.ReadLine(ctx)
		require.NoError(t, err)
		assert.Equal(t, "512,512,0", line)
		m.FrameOK()
	}
	assert.Equal(t, Connected, m.State().State)
}

func TestReadLine_UnconfirmedLineKeepsTimeoutCount(t *testing.T) {
	port := newFakePort()
	m := newTestManager((&scriptedOpener{ports: []*fakePort{port}}).open, nil)
	defer m.Close()
	require.NoError(t, m.Open(context.Background()))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := m.ReadLine(ctx)
		require.ErrorIs(t, err, ErrNoData)
	}
	port.send(t, "garbage\n")
	require.Eventually(t, func() bool { return queued(m) == 1 }, time.Second, time.Millisecond)
	_, err := m.ReadLine(ctx)
	require.NoError(t, err)

	_, err = m.ReadLine(ctx)
	require.ErrorIs(t, err, ErrLinkDown)
	assert.Equal(t, Degraded, m.State().State)
}

func TestReadLine_NoiseStreamDegrades(t *testing.T) {
	port := newFakePort()
	m := newTestManager((&scriptedOpener{ports: []*fakePort{port}}).open, nil)
	defer m.Close()
	require.NoError(t, m.Open(context.Background()))
	ctx := context.Background()

	deadline := time.Now().Add(2 * time.Second)
	var err error
	for time.Now().Before(deadline) {
		go port.write("#noise#\n")
		if _, err = m.ReadLine(ctx); errors.Is(err, ErrLinkDown) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.ErrorIs(t, err, ErrLinkDown)
	st := m.State()
	assert.Equal(t, Degraded, st.State)
	assert.Contains(t, st.Reason, "no valid frame")
	assert.True(t, port.isClosed())
}

func TestReadLine_ConfirmedStreamStaysUp(t *testing.T) {
	port := newFakePort()
	m := newTestManager((&scriptedOpener{ports: []*fakePort{port}}).open, nil)
	defer m.Close()
	require.NoError(t, m.Open(context.Background()))
	ctx := context.Background()

	until := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(until) {
		go port.write("1,2,0\n")
		_, err := m.ReadLine(ctx)
		if err == nil {
			m.FrameOK()
		}
		require.NotErrorIs(t, err, ErrLinkDown)
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, Connected, m.State().State)
}

func TestReadLine_ReadErrorDropsLink(t *testing.T) {
	port := newFakePort()
	m := newTestManager((&scriptedOpener{ports: []*fakePort{port}}).open, nil)
	defer m.Close()
	require.NoError(t, m.Open(context.Background()))

	_ = port.w.CloseWithError(errors.New("device unplugged"))

	m.opts.ReadTimeout = time.Second
	_, err := m.ReadLine(context.Background())
	require.ErrorIs(t, err, ErrLinkDown)
	assert.Contains(t, err.Error(), "device unplugged")
	assert.Equal(t, Degraded, m.State().State)
	assert.True(t, port.isClosed())
}

func TestReadLine_ContextCancel(t *testing.T) {
	port := newFakePort()
	m := newTestManager((&scriptedOpener{ports: []*fakePort{port}}).open, nil)
	defer m.Close()
	require.NoError(t, m.Open(context.Background()))
	m.opts.ReadTimeout = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.ReadLine(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Connected, m.State().State)
}

func TestOpen_DiscoveryFailure(t *testing.T) {
	rec := &stateRecorder{}
	m := newTestManager((&scriptedOpener{}).open, rec)
	m.opts.Discoverer = FixedPort("")

	err := m.Open(context.Background())
	require.ErrorIs(t, err, ErrLinkUnavailable)
	assert.Equal(t, Disconnected, m.State().State)
	assert.Equal(t, []State{Connecting, Disconnected}, rec.get())

	// not terminal: a later attempt may succeed
	port := newFakePort()
	m.opts.Discoverer = FixedPort("/dev/ttyFAKE0")
	m.opts.Opener = (&scriptedOpener{ports: []*fakePort{port}}).open
	require.NoError(t, m.Open(context.Background()))
	assert.Equal(t, Connected, m.State().State)
	_ = m.Close()
}

func TestOpen_OpenerFailure(t *testing.T) {
	m := newTestManager((&scriptedOpener{}).open, nil)

	err := m.Open(context.Background())
	require.ErrorIs(t, err, ErrLinkUnavailable)
	assert.Contains(t, err.Error(), "no such device")
}

func TestOpen_ConnectTimeout(t *testing.T) {
	hung := func(ctx context.Context, _ string, _ int) (Port, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m := newTestManager(hung, nil)
	m.opts.ConnectTimeout = 30 * time.Millisecond

	start := time.Now()
	err := m.Open(context.Background())
	require.ErrorIs(t, err, ErrLinkUnavailable)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Disconnected, m.State().State)
}

func TestOpen_ResetDelayDiscardsBootOutput(t *testing.T) {
	port := newFakePort()
	opener := func(context.Context, string, int) (Port, error) {
		go port.write("boot banner\n1,1,1\n")
		return port, nil
	}
	m := newTestManager(opener, nil)
	defer m.Close()
	m.opts.ResetDelay = 50 * time.Millisecond

	start := time.Now()
	require.NoError(t, m.Open(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Zero(t, queued(m))

	go port.write("5,5,0\n")
	m.opts.ReadTimeout = time.Second
	line, err := m.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5,5,0", line)
}

func TestClose(t *testing.T) {
	port := newFakePort()
	m := newTestManager((&scriptedOpener{ports: []*fakePort{port}}).open, nil)
	require.NoError(t, m.Open(context.Background()))

	require.NoError(t, m.Close())
	assert.True(t, port.isClosed())
	assert.Equal(t, Disconnected, m.State().State)

	_, err := m.ReadLine(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, m.Open(context.Background()), ErrClosed)
	require.NoError(t, m.Close())
}

func TestClose_DuringOpenWins(t *testing.T) {
	port := newFakePort()
	entered := make(chan struct{})
	release := make(chan struct{})
	opener := func(context.Context, string, int) (Port, error) {
		close(entered)
		<-release
		return port, nil
	}
	rec := &stateRecorder{}
	m := newTestManager(opener, rec)

	errc := make(chan error, 1)
	go func() { errc <- m.Open(context.Background()) }()

	<-entered
	require.NoError(t, m.Close())
	close(release)

	require.ErrorIs(t, <-errc, ErrClosed)
	assert.Equal(t, Disconnected, m.State().State)
	assert.True(t, port.isClosed())
	assert.Equal(t, []State{Connecting, Disconnected}, rec.get())
}

func TestClose_DuringFailedOpenWins(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	opener := func(context.Context, string, int) (Port, error) {
		close(entered)
		<-release
		return nil, errors.New("no such device")
	}
	m := newTestManager(opener, nil)

	errc := make(chan error, 1)
	go func() { errc <- m.Open(context.Background()) }()

	<-entered
	require.NoError(t, m.Close())
	close(release)

	require.ErrorIs(t, <-errc, ErrClosed)
	assert.Equal(t, Disconnected, m.State().State)
}

func TestOpen_AfterCloseNeverConnecting(t *testing.T) {
	rec := &stateRecorder{}
	m := newTestManager((&scriptedOpener{}).open, rec)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Open(context.Background())
		}()
	}
	require.NoError(t, m.Close())
	wg.Wait()

	assert.Equal(t, Disconnected, m.State().State)
}

func TestUSBDiscoverer(t *testing.T) {
	ports := []*enumerator.PortDetails{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "067B", Product: "USB-Serial"},
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043", Product: "Uno"},
		{Name: "/dev/ttyUSB1", IsUSB: true, VID: "1A86"},
	}

	tests := []struct {
		name    string
		ids     []string
		ports   []*enumerator.PortDetails
		want    string
		wantErr bool
	}{
		{"first vendor match", []string{"1a86", "2341"}, ports, "/dev/ttyACM0", false},
		{"uppercase vid", []string{"1a86"}, ports, "/dev/ttyUSB1", false},
		{"product name", nil, []*enumerator.PortDetails{{Name: "COM4", IsUSB: true, VID: "FFFF", Product: "Arduino Leonardo"}}, "COM4", false},
		{"no match", []string{"0403"}, ports, "", true},
		{"no ports", []string{"2341"}, nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := USBDiscoverer{
				VendorIDs: tt.ids,
				list:      func() ([]*enumerator.PortDetails, error) { return tt.ports, nil },
			}
			got, err := d.Discover(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLinkState_JSON(t *testing.T) {
	data, err := json.Marshal(LinkState{State: Degraded, Reason: "no data for 3 reads"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"degraded","reason":"no data for 3 reads"}`, string(data))

	var ls LinkState
	require.NoError(t, json.Unmarshal([]byte(`{"state":"connected","port":"/dev/ttyACM0"}`), &ls))
	assert.Equal(t, LinkState{State: Connected, Port: "/dev/ttyACM0"}, ls)
	assert.Equal(t, "connected /dev/ttyACM0", ls.String())

	assert.Error(t, json.Unmarshal([]byte(`{"state":"sideways"}`), &ls))
}

func TestMockPort_ProducesDecodableLines(t *testing.T) {
	m := newTestManager(MockOpener(time.Millisecond), nil)
	defer m.Close()
	m.opts.ReadTimeout = time.Second
	require.NoError(t, m.Open(context.Background()))

	for i := 0; i < 5; i++ {
		line, err := m.ReadLine(context.Background())
		require.NoError(t, err)
		_, err = frame.Decode(line)
		require.NoError(t, err, "line %q", line)
		m.FrameOK()
	}
}

func TestMockSample_InRange(t *testing.T) {
	pressed := 0
	for ms := 0; ms < 6000; ms += 10 {
		s := MockSample(time.Duration(ms) * time.Millisecond)
		_, err := frame.NewSample(s.AxisX, s.AxisY, btoi(s.Button))
		require.NoError(t, err)
		if s.Button {
			pressed++
		}
	}
	assert.Positive(t, pressed)
	assert.Less(t, pressed, 100)
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}
