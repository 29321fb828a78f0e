package update

import (
	"github.com/CK6170/propeller-loader/loader"
	"github.com/CK6170/propeller-loader/models"
)

// Sink receives the progress of an update run. Calls come from the goroutine
// running Controller.Run.
//
// A Sink that also implements loader.ProgressListener receives byte counts
// while images stream out.
type Sink interface {
	// Notify reports a one-line message such as "Found 0 device(s) to update.".
	Notify(msg string)
	// Begin announces how many devices will be updated.
	Begin(total int)
	// DeviceStart announces the device about to be updated.
	DeviceStart(index int, d models.Device, port string)
	loader.Listener
	// DeviceDone reports the outcome for one device; err is nil on success.
	DeviceDone(index int, d models.Device, err error)
	// End receives the summary once the run is over.
	End(s Summary)
}

// NopSink ignores everything. Embed it to implement only part of Sink.
type NopSink struct {
	loader.NopListener
}

func (NopSink) Notify(string)                           {}
func (NopSink) Begin(int)                               {}
func (NopSink) DeviceStart(int, models.Device, string)  {}
func (NopSink) DeviceDone(int, models.Device, error)    {}
func (NopSink) End(Summary)                             {}

// relay forwards loader events to the sink.
type relay struct {
	sink Sink
}

func (r relay) BufferUpload(k loader.Kind, image []byte, label string) {
	r.sink.BufferUpload(k, image, label)
}
func (r relay) VerifyRAM()    { r.sink.VerifyRAM() }
func (r relay) EEPROMWrite()  { r.sink.EEPROMWrite() }
func (r relay) EEPROMVerify() { r.sink.EEPROMVerify() }

func (r relay) Progress(sent, total int) {
	if pl, ok := r.sink.(loader.ProgressListener); ok {
		pl.Progress(sent, total)
	}
}
