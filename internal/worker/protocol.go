package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/starford/rpfba/internal/apperr"
)

// reply is what a worker process writes to its stdout: either a result or
// the error that stopped the job.
type reply struct {
	Result *Result `msgpack:"result,omitempty"`
	Error  string  `msgpack:"error,omitempty"`
	Merge  bool    `msgpack:"merge,omitempty"`
}

// JobError is a job failure reported by a worker process. It matches
// apperr.ErrMerge when the job failed while merging.
type JobError struct {
	JobID   string
	Message string
	merge   bool
}

func (e *JobError) Error() string {
	return fmt.Sprintf("worker: job %s: %s", e.JobID, e.Message)
}

func (e *JobError) Is(target error) bool {
	return e.merge && target == apperr.ErrMerge
}

// Serve reads one msgpack-encoded Request from r, executes it and writes the
// reply to w. Job failures travel in the reply; only protocol failures are
// returned.
func Serve(ctx context.Context, r io.Reader, w io.Writer, logger *slog.Logger) error {
	var req Request
	if err := msgpack.NewDecoder(r).Decode(&req); err != nil {
		return fmt.Errorf("worker: decode request: %w", err)
	}

	var rep reply
	res, err := Execute(ctx, req, logger)
	if err != nil {
		rep.Error = err.Error()
		rep.Merge = errors.Is(err, apperr.ErrMerge)
	} else {
		rep.Result = res
	}
	if err := msgpack.NewEncoder(w).Encode(&rep); err != nil {
		return fmt.Errorf("worker: encode reply: %w", err)
	}
	return nil
}

func decodeReply(jobID string, data []byte) (*Result, error) {
	var rep reply
	if err := msgpack.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("worker: job %s: decode reply: %w", jobID, err)
	}
	if rep.Error != "" {
		return nil, &JobError{JobID: jobID, Message: rep.Error, merge: rep.Merge}
	}
	if rep.Result == nil {
		return nil, fmt.Errorf("worker: job %s: empty reply", jobID)
	}
	return rep.Result, nil
}
