package update

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CK6170/propeller-loader/loader"
	"github.com/CK6170/propeller-loader/models"
	"github.com/CK6170/propeller-loader/params"
	"github.com/CK6170/propeller-loader/serial"
	"github.com/CK6170/propeller-loader/serial/serialtest"
)

func startQueue(t *testing.T, p *params.Parameters) *params.Queue {
	t.Helper()
	q := params.NewQueue(p)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return q
}

// p2Chip answers Prop_Chk with revision G and acks uploads with ack.
func p2Chip(ack string) serialtest.ReplyFunc {
	return func(w []byte) []byte {
		s := string(w)
		switch {
		case strings.Contains(s, "Prop_Chk"):
			return []byte("\rProp_Ver G\r")
		case strings.HasSuffix(s, " ?"):
			return []byte(ack)
		}
		return nil
	}
}

type ports map[string]*serialtest.ScriptPort

func (ps ports) factory(d models.Device) serial.Port {
	if p, ok := ps[d.PortDescription()]; ok {
		return p
	}
	return serialtest.New(d.PortDescription())
}

type sinkLog struct {
	NopSink
	mu      sync.Mutex
	events  []string
	summary *Summary
}

func (s *sinkLog) add(e string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *sinkLog) Notify(msg string)                                { s.add("notify:" + msg) }
func (s *sinkLog) DeviceStart(i int, d models.Device, port string)  { s.add("start:" + port) }
func (s *sinkLog) BufferUpload(k loader.Kind, img []byte, l string) { s.add("buffer:" + k.String()) }
func (s *sinkLog) VerifyRAM()                                       { s.add("verify") }
func (s *sinkLog) DeviceDone(i int, d models.Device, err error) {
	s.add("done:" + d.Status.String())
}
func (s *sinkLog) End(sum Summary) { s.summary = &sum }

type memRecorder struct {
	mu      sync.Mutex
	results []Result
}

func (m *memRecorder) Record(_ context.Context, r Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	return nil
}

type fakeDiscoverer struct {
	list  []*models.Device
	err   error
	calls int
}

func (f *fakeDiscoverer) FindDevices(ctx context.Context, local, network bool) ([]*models.Device, error) {
	f.calls++
	return f.list, f.err
}

func statuses(t *testing.T, q *params.Queue) map[string]models.Status {
	t.Helper()
	out := make(map[string]models.Status)
	if err := q.Do(context.Background(), func(p *params.Parameters) {
		for _, d := range p.Devices() {
			out[d.PortDescription()] = d.Status
		}
	}); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestRunSelected(t *testing.T) {
	p := params.New()
	p.UpdateFromFirmware(models.NewFirmware(models.VersionP2, []byte{1, 2, 3, 4}, "fw"))
	p.SetDevices([]*models.Device{
		models.NewSerialDevice("a", 2, "COM1"),
		models.NewSerialDevice("b", 2, "COM2"),
		models.NewSerialDevice("c", 1, "COM3"),
	})
	q := startQueue(t, p)

	good, bad := serialtest.New("COM1"), serialtest.New("COM2")
	good.Reply, bad.Reply = p2Chip("."), p2Chip("")
	sink := &sinkLog{}
	rec := &memRecorder{}
	c := New(q,
		WithPortFactory(ports{"COM1": good, "COM2": bad}.factory),
		WithSink(sink),
		WithRecorder(rec),
	)

	s, err := c.Run(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if s.Targets != 2 || s.Succeeded != 1 || s.Failed != 1 || s.Cancelled {
		t.Fatalf("summary = %+v", s)
	}
	if !errors.Is(s.Results[1].Err, loader.ErrTimeout) {
		t.Fatalf("second result = %v", s.Results[1].Err)
	}
	if s.BatchID == "" || s.Results[0].BatchID != s.BatchID {
		t.Fatalf("batch ids %q %q", s.BatchID, s.Results[0].BatchID)
	}

	st := statuses(t, q)
	if st["COM1"] != models.StatusOK || st["COM2"] != models.StatusError || st["COM3"] != models.StatusNone {
		t.Fatalf("statuses = %v", st)
	}
	if len(rec.results) != 2 || rec.results[1].Error == "" {
		t.Fatalf("recorded = %+v", rec.results)
	}
	want := []string{"start:COM1", "buffer:ram", "verify", "done:ok", "start:COM2", "buffer:ram", "verify", "done:error"}
	if strings.Join(sink.events, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v", sink.events)
	}
	if sink.summary == nil || sink.summary.Targets != 2 {
		t.Fatal("sink did not receive the summary")
	}
}

func TestRunOnlySelectedDevices(t *testing.T) {
	p := params.New()
	p.UpdateFromFirmware(models.NewFirmware(models.VersionP2, []byte{1}, "fw"))
	a, b := models.NewSerialDevice("a", 2, "COM1"), models.NewSerialDevice("b", 2, "COM2")
	p.SetDevices([]*models.Device{a, b})
	p.SetUpdateAll(false)
	p.SetDeviceSelection(b, true)
	q := startQueue(t, p)

	port := serialtest.New("COM2")
	port.Reply = p2Chip(".")
	c := New(q, WithPortFactory(ports{"COM2": port}.factory))
	s, err := c.Run(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if s.Targets != 1 || s.Succeeded != 1 || s.Results[0].Device.SerialPort != "COM2" {
		t.Fatalf("summary = %+v", s)
	}
}

func TestRunDiscovers(t *testing.T) {
	p := params.New()
	p.UpdateFromFirmware(models.NewFirmware(models.VersionP2, []byte{1}, "fw"))
	p.SetUpdateAll(false)
	q := startQueue(t, p)

	d := &fakeDiscoverer{list: []*models.Device{models.NewSerialDevice("a", 2, "COM1")}}
	port := serialtest.New("COM1")
	port.Reply = p2Chip(".")
	c := New(q, WithDiscoverer(d), WithPortFactory(ports{"COM1": port}.factory))

	s, err := c.Run(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if d.calls != 1 || s.Succeeded != 1 {
		t.Fatalf("calls=%d summary=%+v", d.calls, s)
	}
	if st := statuses(t, q); st["COM1"] != models.StatusOK {
		t.Fatalf("statuses = %v", st)
	}
}

func TestRunNoTargets(t *testing.T) {
	p := params.New()
	p.UpdateFromFirmware(models.NewFirmware(models.VersionP1, []byte{1}, "fw"))
	p.SetDevices([]*models.Device{models.NewSerialDevice("a", 2, "COM1")})
	q := startQueue(t, p)

	sink := &sinkLog{}
	confirmed := false
	c := New(q, WithSink(sink), WithConfirm(func(int) bool { confirmed = true; return true }))
	s, err := c.Run(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if s.Targets != 0 || confirmed {
		t.Fatalf("summary = %+v confirmed=%v", s, confirmed)
	}
	if len(sink.events) != 1 || sink.events[0] != "notify:Found 0 device(s) to update." {
		t.Fatalf("events = %v", sink.events)
	}
}

func TestRunDeclined(t *testing.T) {
	p := params.New()
	p.UpdateFromFirmware(models.NewFirmware(models.VersionP2, []byte{1}, "fw"))
	p.SetDevices([]*models.Device{models.NewSerialDevice("a", 2, "COM1")})
	q := startQueue(t, p)

	port := serialtest.New("COM1")
	var asked int
	c := New(q,
		WithPortFactory(ports{"COM1": port}.factory),
		WithConfirm(func(n int) bool { asked = n; return false }),
	)
	s, err := c.Run(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if asked != 1 || !s.Declined || len(s.Results) != 0 || port.Opens != 0 {
		t.Fatalf("asked=%d summary=%+v opens=%d", asked, s, port.Opens)
	}
}

func TestRunNoFirmware(t *testing.T) {
	q := startQueue(t, params.New())
	if _, err := New(q).Run(context.Background(), false); !errors.Is(err, ErrNoFirmware) {
		t.Fatalf("Run = %v", err)
	}
}

func TestRunCancelled(t *testing.T) {
	p := params.New()
	p.UpdateFromFirmware(models.NewFirmware(models.VersionP2, []byte{1}, "fw"))
	p.SetDevices([]*models.Device{models.NewSerialDevice("a", 2, "COM1")})
	q := startQueue(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(q, WithConfirm(func(int) bool { cancel(); return true }))
	s, err := c.Run(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Cancelled || len(s.Results) != 0 {
		t.Fatalf("summary = %+v", s)
	}
}

// cancellingSink cancels the run once the first bytes are on the wire.
type cancellingSink struct {
	sinkLog
	cancel context.CancelFunc
}

func (s *cancellingSink) Progress(sent, total int) { s.cancel() }

func TestRunCancelledDuringUpload(t *testing.T) {
	p := params.New()
	p.UpdateFromFirmware(models.NewFirmware(models.VersionP2, make([]byte, 512), "fw"))
	p.SetDevices([]*models.Device{
		models.NewSerialDevice("a", 2, "COM1"),
		models.NewSerialDevice("b", 2, "COM2"),
	})
	q := startQueue(t, p)

	port := serialtest.New("COM1")
	port.Reply = p2Chip(".")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &cancellingSink{cancel: cancel}
	rec := &memRecorder{}
	c := New(q,
		WithPortFactory(ports{"COM1": port}.factory),
		WithSink(sink),
		WithRecorder(rec),
	)

	s, err := c.Run(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Cancelled || s.Failed != 0 || s.Succeeded != 0 || len(s.Results) != 1 {
		t.Fatalf("summary = %+v", s)
	}
	if r := s.Results[0]; !r.Cancelled || !loader.IsCancelled(r.Err) {
		t.Fatalf("result = %+v", r)
	}
	if st := statuses(t, q); st["COM1"] != models.StatusNone || st["COM2"] != models.StatusNone {
		t.Fatalf("statuses = %v", st)
	}
	if len(rec.results) != 1 || !rec.results[0].Cancelled {
		t.Fatalf("recorded = %+v", rec.results)
	}
	if strings.Contains(s.String(), "1 failed") {
		t.Fatalf("summary text = %q", s.String())
	}
}

func TestRunDiscoveryCancelled(t *testing.T) {
	p := params.New()
	p.UpdateFromFirmware(models.NewFirmware(models.VersionP2, []byte{1}, "fw"))
	q := startQueue(t, p)

	c := New(q, WithDiscoverer(&fakeDiscoverer{err: loader.ErrCancelled}))
	s, err := c.Run(context.Background(), false)
	if err != nil || !s.Cancelled {
		t.Fatalf("Run = %+v, %v", s, err)
	}
}

func TestRunBusy(t *testing.T) {
	p := params.New()
	p.UpdateFromFirmware(models.NewFirmware(models.VersionP2, []byte{1}, "fw"))
	p.SetDevices([]*models.Device{models.NewSerialDevice("a", 2, "COM1")})
	q := startQueue(t, p)

	release := make(chan struct{})
	entered := make(chan struct{})
	c := New(q, WithConfirm(func(int) bool {
		close(entered)
		<-release
		return false
	}))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Run(context.Background(), false)
	}()
	<-entered
	if !c.Running() {
		t.Fatal("Running = false during a run")
	}
	if _, err := c.Run(context.Background(), false); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Run = %v", err)
	}
	close(release)
	<-done
}

func TestSummaryTally(t *testing.T) {
	s := Summary{Targets: 3, Results: []Result{
		{Duration: 1 * time.Second},
		{Duration: 3 * time.Second, Err: errors.New("x")},
		{Duration: 2 * time.Second},
	}}
	s.tally()
	if s.Succeeded != 2 || s.Failed != 1 {
		t.Fatalf("counts = %d/%d", s.Succeeded, s.Failed)
	}
	if s.MeanDuration != 2*time.Second || s.StdDevDuration != time.Second {
		t.Fatalf("mean=%v std=%v", s.MeanDuration, s.StdDevDuration)
	}
	if got := s.String(); got != "Updated 2 of 3 device(s), 1 failed (2.00s ± 1.00s per device)." {
		t.Fatalf("String = %q", got)
	}

	stopped := Summary{Targets: 2, Cancelled: true, Results: []Result{
		{Duration: time.Second},
		{Duration: 5 * time.Second, Err: loader.ErrCancelled, Cancelled: true},
	}}
	stopped.tally()
	if stopped.Succeeded != 1 || stopped.Failed != 0 || stopped.MeanDuration != time.Second {
		t.Fatalf("cancelled tally = %+v", stopped)
	}

	one := Summary{Targets: 1, Results: []Result{{Duration: time.Second}}}
	one.tally()
	if one.StdDevDuration != 0 || one.MeanDuration != time.Second {
		t.Fatalf("single result: mean=%v std=%v", one.MeanDuration, one.StdDevDuration)
	}
}

func TestPortFor(t *testing.T) {
	if p := PortFor(*models.NewSerialDevice("a", 1, "COM7")); p.Name() != "COM7" {
		t.Fatalf("serial port name = %q", p.Name())
	}
	d := models.NewNetworkDevice("bridge", 2, []byte{10, 0, 0, 5}, "aa:bb", "DTR")
	if _, ok := PortFor(*d).(*serial.NetworkPort); !ok {
		t.Fatal("network device did not get a network port")
	}
}
