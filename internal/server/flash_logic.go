package server

import (
	"github.com/CK6170/propeller-loader/loader"
	"github.com/CK6170/propeller-loader/models"
	"github.com/CK6170/propeller-loader/update"
)

// HubSink streams an update run to the WebSocket clients. Stage messages use
// the names the web UI switches on.
type HubSink struct {
	hub *WSHub
}

var (
	_ update.Sink             = (*HubSink)(nil)
	_ loader.ProgressListener = (*HubSink)(nil)
)

// NewHubSink returns a sink broadcasting on hub.
func NewHubSink(hub *WSHub) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) emit(typ string, data interface{}) {
	s.hub.Broadcast(WSMessage{Type: typ, Data: data})
}

func (s *HubSink) stage(stage, message string) {
	s.emit(EventStage, map[string]interface{}{"stage": stage, "message": message})
}

func (s *HubSink) Notify(msg string) {
	s.emit(EventNotice, map[string]interface{}{"message": msg})
}

func (s *HubSink) Begin(total int) {
	s.emit(EventBegin, map[string]interface{}{"total": total})
}

func (s *HubSink) DeviceStart(i int, d models.Device, port string) {
	s.emit(EventDevice, map[string]interface{}{
		"index":   i,
		"device":  d,
		"port":    port,
		"message": "Firmware upload to " + port,
	})
}

func (s *HubSink) BufferUpload(kind loader.Kind, image []byte, label string) {
	s.emit(EventStage, map[string]interface{}{
		"stage":   "load",
		"target":  kind.String(),
		"size":    len(image),
		"message": "Loading " + label + " to RAM",
	})
}

func (s *HubSink) VerifyRAM()    { s.stage("verify_ram", "Verifying RAM ... ") }
func (s *HubSink) EEPROMWrite()  { s.stage("eeprom_write", "Writing EEPROM ... ") }
func (s *HubSink) EEPROMVerify() { s.stage("eeprom_verify", "Verifying EEPROM ... ") }

func (s *HubSink) Progress(sent, total int) {
	s.emit(EventProgress, map[string]interface{}{"sent": sent, "total": total})
}

func (s *HubSink) DeviceDone(i int, d models.Device, err error) {
	data := map[string]interface{}{"index": i, "device": d, "ok": err == nil}
	if err != nil {
		data["error"] = err.Error()
		data["cancelled"] = loader.IsCancelled(err)
	}
	s.emit(EventResult, data)
}

func (s *HubSink) End(sum update.Summary) {
	s.emit(EventDone, sum)
}
