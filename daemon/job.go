package daemon

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"
)

// Job lifecycle events for the looplab/fsm machine driving each job's
// Queued -> Printing -> Done|Failed walk. Never reverses.
const (
	jobEvtStart    = "start"
	jobEvtComplete = "complete"
	jobEvtFail     = "fail"
)

var jobFsmEvents = []fsm.EventDesc{
	{
		Name: jobEvtStart,
		Src:  []string{string(JobQueued)},
		Dst:  string(JobPrinting),
	},
	{
		Name: jobEvtComplete,
		Src:  []string{string(JobPrinting)},
		Dst:  string(JobDone),
	},
	{
		Name: jobEvtFail, // event arg: error message string
		Src:  []string{string(JobQueued), string(JobPrinting)},
		Dst:  string(JobFailed),
	},
}

// newJobFSM returns a state machine seeded at Queued for job id,
// whose callbacks persist the resulting status (and, on failure, the
// error message) back into store.
func newJobFSM(store *Store, id string) *fsm.FSM {
	lg := slog.With("job_id", id)
	return fsm.NewFSM(string(JobQueued), jobFsmEvents, fsm.Callbacks{
		jobEvtStart: func(ctx context.Context, e *fsm.Event) {
			lg.InfoContext(ctx, "job printing started")
			store.UpdateJob(id, func(j *Job) { j.Status = JobPrinting })
		},
		jobEvtComplete: func(ctx context.Context, e *fsm.Event) {
			lg.InfoContext(ctx, "job completed")
			store.UpdateJob(id, func(j *Job) { j.Status = JobDone })
		},
		jobEvtFail: func(ctx context.Context, e *fsm.Event) {
			msg := "unknown error"
			if len(e.Args) > 0 {
				if m, ok := e.Args[0].(string); ok {
					msg = m
				}
			}
			lg.ErrorContext(ctx, "job failed", "error", msg)
			store.UpdateJob(id, func(j *Job) {
				j.Status = JobFailed
				j.Error = msg
			})
		},
	})
}
