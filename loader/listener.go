package loader

// Kind selects where an uploaded image ends up.
type Kind int

const (
	// DownloadRunRAM loads the image into hub RAM and starts it.
	DownloadRunRAM Kind = 0
	// DownloadRunFlash also writes the image to the boot memory.
	DownloadRunFlash Kind = 1
)

func (k Kind) String() string {
	if k == DownloadRunFlash {
		return "flash"
	}
	return "ram"
}

// KindFor maps the write-to-flash flag of an upload to its Kind.
func KindFor(writeFlash bool) Kind {
	if writeFlash {
		return DownloadRunFlash
	}
	return DownloadRunRAM
}

// Listener receives the phases of an upload, in order: BufferUpload once the
// chip answered, VerifyRAM before waiting for the RAM checksum, then
// EEPROMWrite and EEPROMVerify when the image goes to boot memory.
//
// Calls happen on the uploading goroutine; implementations should return
// quickly.
type Listener interface {
	BufferUpload(kind Kind, image []byte, label string)
	VerifyRAM()
	EEPROMWrite()
	EEPROMVerify()
}

// ProgressListener is implemented by listeners that also want byte counts
// while the image streams out.
type ProgressListener interface {
	Progress(sent, total int)
}

// NopListener ignores every event.
type NopListener struct{}

func (NopListener) BufferUpload(Kind, []byte, string) {}
func (NopListener) VerifyRAM()                        {}
func (NopListener) EEPROMWrite()                      {}
func (NopListener) EEPROMVerify()                     {}
