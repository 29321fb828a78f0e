package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CK6170/propeller-loader/internal/history"
	"github.com/CK6170/propeller-loader/models"
	"github.com/CK6170/propeller-loader/params"
	"github.com/CK6170/propeller-loader/shell"
	"github.com/CK6170/propeller-loader/update"
)

type fakeHistory struct {
	limit int
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]history.Entry, error) {
	f.limit = limit
	return []history.Entry{{BatchID: "b1", Device: "P2 Board"}}, nil
}

type stateBody struct {
	Firmware *params.FirmwareInfo `json:"firmware"`
	Devices  []models.Device      `json:"devices"`
	View     string               `json:"view"`
	File     string               `json:"file"`
	Network  bool                 `json:"enableNetwork"`
}

func newTestServer(t *testing.T, withController bool) (*httptest.Server, *params.Queue, *fakeHistory) {
	t.Helper()
	q := params.NewQueue(params.New())
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Run(ctx)
	}()

	hub := NewWSHub()
	var opts []shell.Option
	if withController {
		ctrl := update.New(q, update.WithSink(NewHubSink(hub)), update.WithConfirm(func(int) bool { return true }))
		opts = append(opts, shell.WithController(ctrl))
	}
	h := &fakeHistory{}
	s := New(Deps{
		Loader:    shell.New(q, opts...),
		Queue:     q,
		Hub:       hub,
		History:   h,
		UploadDir: t.TempDir(),
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		wg.Wait()
	})
	return ts, q, h
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func uploadFile(t *testing.T, url, name string, data []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()
	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t, false)
	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var h HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil || !h.OK {
		t.Fatalf("health = %+v, %v", h, err)
	}
}

func TestUploadBinary(t *testing.T) {
	ts, _, _ := newTestServer(t, false)
	resp := uploadFile(t, ts.URL+"/api/firmware", "blink.binary", []byte{0x10, 0x04, 0x00, 0x00})
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Kind  string    `json:"kind"`
		State stateBody `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Kind != "binary" || body.State.Firmware == nil || body.State.View != "info" {
		t.Fatalf("body = %+v", body)
	}
}

func TestUploadPack(t *testing.T) {
	ts, _, _ := newTestServer(t, false)
	pack := `{"firmwareList":[{"binaryVersion":2,"binaryImage":"AQID","description":"A"}],"enableNetwork":true}`
	resp := uploadFile(t, ts.URL+"/api/firmware", "pack.json", []byte(pack))
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Kind  string    `json:"kind"`
		State stateBody `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Kind != "pack" || body.State.View != "list" || !body.State.Network {
		t.Fatalf("body = %+v", body)
	}
	if body.State.Firmware == nil || body.State.Firmware.Description != "A" {
		t.Fatalf("firmware = %+v", body.State.Firmware)
	}
}

func TestUploadInvalid(t *testing.T) {
	ts, _, _ := newTestServer(t, false)
	resp := uploadFile(t, ts.URL+"/api/firmware", "notes.txt", []byte("hello"))
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestDeviceSelect(t *testing.T) {
	ts, q, _ := newTestServer(t, false)
	err := q.Do(context.Background(), func(p *params.Parameters) {
		p.SetDevices([]*models.Device{
			models.NewSerialDevice("P2", models.VersionP2, "COM1"),
			models.NewNetworkDevice("Bridge", models.VersionP1, net.IPv4(10, 0, 0, 5), "aa:bb", ""),
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	resp := postJSON(t, ts.URL+"/api/devices/select", DeviceSelectRequest{IP: "10.0.0.5", MAC: "aa:bb", Selected: true})
	var st stateBody
	json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if resp.StatusCode != 200 || len(st.Devices) != 2 || !st.Devices[1].Selected || st.Devices[0].Selected {
		t.Fatalf("status = %d devices = %+v", resp.StatusCode, st.Devices)
	}

	resp = postJSON(t, ts.URL+"/api/devices/select", DeviceSelectRequest{SerialPort: "COM9", Selected: true})
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Fatalf("unknown device status = %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/devices/select", DeviceSelectRequest{Selected: true})
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Fatalf("empty request status = %d", resp.StatusCode)
	}
}

func TestFirmwareSelectOutOfRange(t *testing.T) {
	ts, _, _ := newTestServer(t, false)
	resp := postJSON(t, ts.URL+"/api/firmware/select", SelectFirmwareRequest{Index: 3})
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHistory(t *testing.T) {
	ts, _, h := newTestServer(t, false)
	resp, err := http.Get(ts.URL + "/api/history?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	var entries []history.Entry
	json.NewDecoder(resp.Body).Decode(&entries)
	resp.Body.Close()
	if len(entries) != 1 || entries[0].BatchID != "b1" || h.limit != 5 {
		t.Fatalf("entries = %+v limit = %d", entries, h.limit)
	}

	resp, err = http.Get(ts.URL + "/api/history?limit=x")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestUpdateStartWithoutController(t *testing.T) {
	ts, _, _ := newTestServer(t, false)
	resp := postJSON(t, ts.URL+"/api/update/start", UpdateStartRequest{})
	resp.Body.Close()
	if resp.StatusCode != 500 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func dialEvents(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m WSMessage
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestEventsStream(t *testing.T) {
	ts, _, _ := newTestServer(t, false)
	conn := dialEvents(t, ts)
	if m := readEvent(t, conn); m.Type != EventState {
		t.Fatalf("first event = %+v", m)
	}

	on := true
	resp := postJSON(t, ts.URL+"/api/options", shell.Options{EnableNetwork: &on})
	resp.Body.Close()
	m := readEvent(t, conn)
	data, _ := m.Data.(map[string]interface{})
	if m.Type != EventState || data["event"] != "enableNetwork" {
		t.Fatalf("event = %+v", m)
	}
}

func TestUpdateStartReportsError(t *testing.T) {
	ts, _, _ := newTestServer(t, true)
	conn := dialEvents(t, ts)
	readEvent(t, conn)

	resp := postJSON(t, ts.URL+"/api/update/start", UpdateStartRequest{})
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	m := readEvent(t, conn)
	data, _ := m.Data.(map[string]interface{})
	if m.Type != EventError || data["message"] != update.ErrNoFirmware.Error() {
		t.Fatalf("event = %+v", m)
	}
}

func TestDeviceKey(t *testing.T) {
	k, err := deviceKey(DeviceSelectRequest{SerialPort: " COM3 "})
	if err != nil || k.SerialPort != "COM3" {
		t.Fatalf("key = %+v, %v", k, err)
	}
	if _, err := deviceKey(DeviceSelectRequest{IP: "nope"}); err == nil {
		t.Fatal("expected error for bad ip")
	}
}
