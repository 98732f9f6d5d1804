package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/probelab/daplog/internal/logstore"
)

// waitFor polls cond every couple of milliseconds until it holds or the
// timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// recvLines receives exactly n lines from a subscription.
func recvLines(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	deadline := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case line, ok := <-sub.Lines():
			if !ok {
				t.Fatalf("subscription closed after %d of %d lines", len(out), n)
			}
			out = append(out, line)
		case <-deadline:
			t.Fatalf("timed out after %d of %d lines: %v", len(out), n, out)
		}
	}
	return out
}

// fakeClock is an injectable time source so rotation can be driven across
// a day boundary without waiting for one.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t *testing.T, value string) *fakeClock {
	t.Helper()
	ts, err := time.ParseInLocation(logstore.TimestampLayout, value, time.Local)
	if err != nil {
		t.Fatalf("parsing %q: %v", value, err)
	}
	return &fakeClock{now: ts}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t *testing.T, value string) {
	t.Helper()
	ts, err := time.ParseInLocation(logstore.TimestampLayout, value, time.Local)
	if err != nil {
		t.Fatalf("parsing %q: %v", value, err)
	}
	c.mu.Lock()
	c.now = ts
	c.mu.Unlock()
}

// fakePort scripts the byte stream of an in-memory serial device. With an
// empty script it behaves like an idle line: reads time out with no data.
type fakePort struct {
	mu      sync.Mutex
	script  [][]byte
	readErr error
	closed  chan struct{}
	once    sync.Once
	reads   atomic.Int64
}

func newFakePort() *fakePort {
	return &fakePort{closed: make(chan struct{})}
}

// feed queues bytes for delivery on a future Read.
func (p *fakePort) feed(data string) {
	p.mu.Lock()
	p.script = append(p.script, []byte(data))
	p.mu.Unlock()
}

// failReads makes every Read after the script drains return err.
func (p *fakePort) failReads(err error) {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.reads.Add(1)

	select {
	case <-p.closed:
		return 0, io.ErrClosedPipe
	default:
	}

	p.mu.Lock()
	if len(p.script) > 0 {
		chunk := p.script[0]
		p.script = p.script[1:]
		p.mu.Unlock()
		return copy(b, chunk), nil
	}
	err := p.readErr
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}

	// Idle line: behave like the short read timeout.
	select {
	case <-p.closed:
		return 0, io.ErrClosedPipe
	case <-time.After(time.Millisecond):
	}
	return 0, nil
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// fakeOpener hands out fake ports and records every attempt.
type fakeOpener struct {
	mu       sync.Mutex
	opened   []*fakePort
	openErr  error
	lastPath string
	lastBaud int
	attempts atomic.Int64
}

func (o *fakeOpener) open(path string, baud int, readTimeout time.Duration) (io.ReadCloser, error) {
	o.attempts.Add(1)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastPath = path
	o.lastBaud = baud
	if o.openErr != nil {
		return nil, o.openErr
	}
	p := newFakePort()
	o.opened = append(o.opened, p)
	return p, nil
}

func (o *fakeOpener) setOpenErr(err error) {
	o.mu.Lock()
	o.openErr = err
	o.mu.Unlock()
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

func (o *fakeOpener) last() *fakePort {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.opened) == 0 {
		return nil
	}
	return o.opened[len(o.opened)-1]
}

// readerFixture assembles one reader with all seams faked and fast
// backoffs. The registered device path points at a real temp file so the
// existence check passes.
type readerFixture struct {
	t        *testing.T
	reader   *reader
	registry *Registry
	hub      *Hub
	pause    *PauseCoordinator
	opener   *fakeOpener
	clock    *fakeClock
	root     string
	device   string
	cancel   context.CancelFunc
	done     chan struct{}
}

func newReaderFixture(t *testing.T) *readerFixture {
	t.Helper()

	device := filepath.Join(t.TempDir(), "ttyFAKE0")
	if err := os.WriteFile(device, nil, 0o644); err != nil {
		t.Fatalf("creating fake device node: %v", err)
	}

	registry := NewRegistry()
	registry.Register(Port{ID: "probe-1", DevicePath: device, DisplayName: "Fake DAP"})

	f := &readerFixture{
		t:        t,
		registry: registry,
		hub:      NewHub(64),
		pause:    NewPauseCoordinator(2 * time.Second),
		opener:   &fakeOpener{},
		clock:    newFakeClock(t, "2026-03-01T10:00:00.000"),
		root:     t.TempDir(),
		device:   device,
	}
	f.reader = newReader("probe-1", registry, f.hub, f.pause,
		logstore.NewWriter(f.root, "probe-1"),
		readerConfig{
			baudRate:           115200,
			readTimeout:        time.Millisecond,
			pausePoll:          5 * time.Millisecond,
			backoffPathMissing: 5 * time.Millisecond,
			backoffSerial:      5 * time.Millisecond,
			backoffUnknown:     5 * time.Millisecond,
		}, nil)
	f.reader.openPort = f.opener.open
	f.reader.now = f.clock.Now
	return f
}

func (f *readerFixture) start() {
	f.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})
	go func() {
		f.reader.run(ctx)
		close(f.done)
	}()
	f.t.Cleanup(f.stop)
}

func (f *readerFixture) stop() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	f.cancel = nil
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		f.t.Error("reader did not stop")
	}
}

func (f *readerFixture) connected() bool {
	p, err := f.registry.Get("probe-1")
	return err == nil && p.Connected
}

func (f *readerFixture) flashing() bool {
	p, err := f.registry.Get("probe-1")
	return err == nil && p.Flashing
}

func (f *readerFixture) fileContent(day string) string {
	f.t.Helper()
	data, err := os.ReadFile(filepath.Join(f.root, "probe-1", day+".log"))
	if err != nil {
		f.t.Fatalf("reading day file: %v", err)
	}
	return string(data)
}

func TestReader_IngestsBurst(t *testing.T) {
	f := newReaderFixture(t)
	sub := f.hub.Subscribe("probe-1")
	defer f.hub.Unsubscribe(sub)

	f.start()
	waitFor(t, 2*time.Second, f.connected, "reader never connected")

	f.opener.last().feed("boot\nready\n")

	// Connect announcement first, then both burst lines in arrival order
	// with identical extraction timestamps.
	got := recvLines(t, sub, 3)
	if !strings.Contains(got[0], "--- connected on "+f.device+" ---") {
		t.Errorf("got[0] = %q, want connect announcement", got[0])
	}
	if got[1] != "[2026-03-01T10:00:00.000] boot" {
		t.Errorf("got[1] = %q", got[1])
	}
	if got[2] != "[2026-03-01T10:00:00.000] ready" {
		t.Errorf("got[2] = %q", got[2])
	}

	// The file and the live stream carry byte-identical lines.
	f.stop()
	fileLines := strings.Split(strings.TrimSuffix(f.fileContent("2026-03-01"), "\n"), "\n")
	if len(fileLines) != 3 {
		t.Fatalf("file has %d lines, want 3: %q", len(fileLines), fileLines)
	}
	for i := range fileLines {
		if fileLines[i] != got[i] {
			t.Errorf("file/stream divergence at %d: %q vs %q", i, fileLines[i], got[i])
		}
	}

	if !f.opener.last().isClosed() {
		t.Error("device handle left open after shutdown")
	}
	if f.opener.lastBaud != 115200 {
		t.Errorf("opened at baud %d, want 115200", f.opener.lastBaud)
	}
}

func TestReader_FramesCRLFAndSkipsEmptyLines(t *testing.T) {
	f := newReaderFixture(t)
	sub := f.hub.Subscribe("probe-1")
	defer f.hub.Unsubscribe(sub)

	f.start()
	waitFor(t, 2*time.Second, f.connected, "reader never connected")

	f.opener.last().feed("one\r\n\r\ntwo\r\n")

	got := recvLines(t, sub, 3)
	if !strings.HasSuffix(got[1], "] one") {
		t.Errorf("got[1] = %q, want trailing CR trimmed", got[1])
	}
	if !strings.HasSuffix(got[2], "] two") {
		t.Errorf("got[2] = %q, want empty line skipped", got[2])
	}
}

func TestReader_PartialLineHeldAcrossReads(t *testing.T) {
	f := newReaderFixture(t)
	sub := f.hub.Subscribe("probe-1")
	defer f.hub.Unsubscribe(sub)

	f.start()
	waitFor(t, 2*time.Second, f.connected, "reader never connected")

	port := f.opener.last()
	port.feed("par")
	port.feed("tial\n")

	got := recvLines(t, sub, 2)
	if !strings.HasSuffix(got[1], "] partial") {
		t.Errorf("got[1] = %q, want the fragments joined into one line", got[1])
	}
}

func TestReader_PermissiveDecoding(t *testing.T) {
	f := newReaderFixture(t)
	sub := f.hub.Subscribe("probe-1")
	defer f.hub.Unsubscribe(sub)

	f.start()
	waitFor(t, 2*time.Second, f.connected, "reader never connected")

	// 0xB0 is the latin-1 degree sign; invalid as standalone UTF-8.
	f.opener.last().feed("temp 25\xb0C\n")

	got := recvLines(t, sub, 2)
	if !strings.HasSuffix(got[1], "] temp 25°C") {
		t.Errorf("got[1] = %q, want permissive byte decode", got[1])
	}
}

func TestReader_ReconnectsAfterReadError(t *testing.T) {
	f := newReaderFixture(t)
	sub := f.hub.Subscribe("probe-1")
	defer f.hub.Unsubscribe(sub)

	f.start()
	waitFor(t, 2*time.Second, f.connected, "reader never connected")
	first := f.opener.last()

	first.feed("boot\n")
	recvLines(t, sub, 2) // announcement + boot

	first.failReads(errors.New("device yanked"))

	got := recvLines(t, sub, 2) // disconnect + reconnect announcements
	if !strings.Contains(got[0], "--- disconnected from "+f.device+" ---") {
		t.Errorf("got[0] = %q, want disconnect announcement", got[0])
	}
	if !strings.Contains(got[1], "--- connected on "+f.device+" ---") {
		t.Errorf("got[1] = %q, want reconnect announcement", got[1])
	}

	waitFor(t, 2*time.Second, f.connected, "reader never reconnected")
	if f.opener.count() < 2 {
		t.Errorf("opener called %d times, want at least 2", f.opener.count())
	}
	if !first.isClosed() {
		t.Error("failed device handle was not closed")
	}
}

func TestReader_MissingPathBacksOffWithoutOpening(t *testing.T) {
	f := newReaderFixture(t)
	os.Remove(f.device)

	f.start()

	// Several backoff cycles worth of time: the opener must never fire
	// while the device node is absent.
	time.Sleep(40 * time.Millisecond)
	if n := f.opener.attempts.Load(); n != 0 {
		t.Errorf("open attempted %d times for a missing device node", n)
	}
	if f.connected() {
		t.Error("Connected = true while the device node is missing")
	}

	// Node reappears (probe replugged): the reader picks it up.
	if err := os.WriteFile(f.device, nil, 0o644); err != nil {
		t.Fatalf("recreating device node: %v", err)
	}
	waitFor(t, 2*time.Second, f.connected, "reader never connected after the node appeared")
}

func TestReader_OpenFailureRetries(t *testing.T) {
	f := newReaderFixture(t)
	f.opener.setOpenErr(errors.New("resource busy"))

	f.start()
	waitFor(t, 2*time.Second, func() bool { return f.opener.attempts.Load() >= 2 },
		"reader did not retry after open failure")
	if f.connected() {
		t.Error("Connected = true while opens are failing")
	}

	f.opener.setOpenErr(nil)
	waitFor(t, 2*time.Second, f.connected, "reader never connected after opens recovered")
}

func TestReader_PauseHandshake(t *testing.T) {
	f := newReaderFixture(t)
	sub := f.hub.Subscribe("probe-1")
	defer f.hub.Unsubscribe(sub)

	f.start()
	waitFor(t, 2*time.Second, f.connected, "reader never connected")
	port := f.opener.last()

	result := make(chan error, 1)
	go func() {
		result <- f.pause.RequestPause(context.Background(), "probe-1")
	}()

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("RequestPause() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pause was never acknowledged")
	}

	// By acknowledgement time the device and log handles are released and
	// the flags show a flash in progress.
	if !port.isClosed() {
		t.Error("device handle still open after pause acknowledgement")
	}
	p, _ := f.registry.Get("probe-1")
	if p.Connected || !p.Flashing {
		t.Errorf("flags = connected=%v flashing=%v, want false/true", p.Connected, p.Flashing)
	}

	// Zero device reads while parked.
	before := port.reads.Load()
	time.Sleep(30 * time.Millisecond)
	if after := port.reads.Load(); after != before {
		t.Errorf("device read while paused: %d reads", after-before)
	}

	if !strings.Contains(f.fileContent("2026-03-01"), "--- paused (flashing) ---") {
		t.Error("paused announcement missing from the day file")
	}

	f.pause.Resume("probe-1")
	waitFor(t, 2*time.Second, f.connected, "reader never reconnected after resume")
	waitFor(t, 2*time.Second, func() bool { return !f.flashing() }, "flashing flag never cleared")
	if f.opener.count() < 2 {
		t.Errorf("opener called %d times, want a fresh open after resume", f.opener.count())
	}

	content := f.fileContent("2026-03-01")
	paused := strings.Index(content, "--- paused (flashing) ---")
	resumed := strings.Index(content, "--- resumed ---")
	reconnected := strings.LastIndex(content, "--- connected on")
	if !(paused < resumed && resumed < reconnected) {
		t.Errorf("announcement order wrong: paused@%d resumed@%d reconnected@%d",
			paused, resumed, reconnected)
	}
}

func TestReader_RotatesAtMidnight(t *testing.T) {
	f := newReaderFixture(t)
	sub := f.hub.Subscribe("probe-1")
	defer f.hub.Unsubscribe(sub)

	f.clock.Set(t, "2026-03-01T23:59:59.900")
	f.start()
	waitFor(t, 2*time.Second, f.connected, "reader never connected")
	port := f.opener.last()

	port.feed("alpha\n")
	recvLines(t, sub, 2) // announcement + alpha

	f.clock.Set(t, "2026-03-02T00:00:00.100")
	port.feed("bravo\n")
	recvLines(t, sub, 1)

	f.stop()

	dayOne := f.fileContent("2026-03-01")
	if !strings.Contains(dayOne, "] alpha") || strings.Contains(dayOne, "bravo") {
		t.Errorf("day one content wrong: %q", dayOne)
	}
	dayTwo := f.fileContent("2026-03-02")
	if dayTwo != "[2026-03-02T00:00:00.100] bravo\n" {
		t.Errorf("day two content = %q", dayTwo)
	}
}

func TestClassifyFault(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want faultClass
	}{
		{"wrapped not-exist", fmt.Errorf("stat device: %w", os.ErrNotExist), faultPathMissing},
		{
			"path error carrying not-exist",
			&os.PathError{Op: "stat", Path: "/dev/ttyACM0", Err: os.ErrNotExist},
			faultPathMissing,
		},
		{
			"tty layer path error",
			&os.PathError{Op: "read", Path: "/dev/ttyACM0", Err: io.ErrUnexpectedEOF},
			faultSerial,
		},
		{"anything else", errors.New("cosmic rays"), faultUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyFault(tt.err); got != tt.want {
				t.Errorf("classifyFault(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
