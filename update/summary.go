package update

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/CK6170/propeller-loader/models"
)

// Result is the outcome of one device upload.
type Result struct {
	BatchID    string        `json:"batchId"`
	Device     models.Device `json:"device"`
	Firmware   string        `json:"firmware"`
	Version    int           `json:"version"`
	WriteFlash bool          `json:"writeFlash"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
	Error      string        `json:"error,omitempty"`
	// Cancelled marks an upload stopped by the caller. It is neither a
	// success nor a failure.
	Cancelled bool `json:"cancelled,omitempty"`
}

// OK reports whether the upload succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Summary describes a finished run.
type Summary struct {
	BatchID   string   `json:"batchId"`
	Targets   int      `json:"targets"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Declined  bool     `json:"declined"`
	Cancelled bool     `json:"cancelled"`
	Results   []Result `json:"results"`

	MeanDuration   time.Duration `json:"meanDuration"`
	StdDevDuration time.Duration `json:"stdDevDuration"`
}

func (s Summary) String() string {
	switch {
	case s.Targets == 0:
		return "Found 0 device(s) to update."
	case s.Declined:
		return fmt.Sprintf("Update of %d device(s) declined.", s.Targets)
	}
	msg := fmt.Sprintf("Updated %d of %d device(s), %d failed", s.Succeeded, s.Targets, s.Failed)
	if s.Cancelled {
		msg += ", cancelled"
	}
	if s.Succeeded+s.Failed > 0 {
		msg += fmt.Sprintf(" (%.2fs ± %.2fs per device)", s.MeanDuration.Seconds(), s.StdDevDuration.Seconds())
	}
	return msg + "."
}

// tally fills the counters and duration statistics from the results.
func (s *Summary) tally() {
	s.Succeeded, s.Failed = 0, 0
	durations := make([]float64, 0, len(s.Results))
	for _, r := range s.Results {
		switch {
		case r.Cancelled:
			continue
		case r.OK():
			s.Succeeded++
		default:
			s.Failed++
		}
		durations = append(durations, r.Duration.Seconds())
	}
	switch len(durations) {
	case 0:
		s.MeanDuration, s.StdDevDuration = 0, 0
	case 1:
		s.MeanDuration = seconds(durations[0])
		s.StdDevDuration = 0
	default:
		mean, std := stat.MeanStdDev(durations, nil)
		s.MeanDuration = seconds(mean)
		s.StdDevDuration = seconds(std)
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
