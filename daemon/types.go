package daemon

import (
	"time"

	"github.com/kilobyte-labs/funnyprint/wire"
)

// RenderArtifact is the output of a render operation: a preview PNG
// and the packed lines ready for the wire, plus the parameters the
// render was produced with. Lives in the in-memory render cache for
// the daemon's lifetime.
type RenderArtifact struct {
	ID              string
	PreviewPNG      []byte
	Lines           []wire.PackedLine
	Density         uint8
	AddressOverride string
	CreatedAt       time.Time
}

// JobStatus is one of the four terminal/non-terminal states a Job
// moves through. Matches the looplab/fsm state names 1:1 so fsm.Event
// results can be assigned straight into Job.Status.
type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobPrinting JobStatus = "printing"
	JobDone     JobStatus = "done"
	JobFailed   JobStatus = "failed"
)

// Terminal reports whether status is Done or Failed.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// Job is a single print request: a render id to stream, the address
// and density to stream it at, and its lifecycle status. Created
// Queued; never reverses once Done or Failed.
type Job struct {
	ID        string
	RenderID  string
	Address   string
	Density   uint8
	Status    JobStatus
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PrinterInfo describes one scan hit, for the scan endpoint's
// response body.
type PrinterInfo struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}
