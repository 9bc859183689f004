package engine

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"nexd/internal/sched"
	"nexd/internal/task"
	"nexd/pkg/types"
)

// tokenChunk is one NDJSON line of streamed output.
type tokenChunk struct {
	Token string `json:"token,omitempty"`
	Done  bool   `json:"done,omitempty"`
	// Populated on the final line only.
	Model            string `json:"model,omitempty"`
	Provider         string `json:"provider,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	LatencyMS        int64  `json:"latency_ms,omitempty"`
	FinishReason     string `json:"finish_reason,omitempty"`
}

// InferStream runs the request on the worker pool and writes NDJSON chunks
// to w as tokens arrive, flushing after each line. The final line carries
// done=true plus the result summary. Errors that occur before any token was
// written are returned so the HTTP layer can map them to a status code.
func (e *Engine) InferStream(ctx context.Context, req types.InferRequest, w io.Writer, flush func()) error {
	var wmu sync.Mutex
	wrote := false
	closed := false

	// emitLocked writes one line; callers hold wmu. Lines are staged in a
	// pooled buffer so per-token encoding does not churn allocations.
	emitLocked := func(c tokenChunk) error {
		buf := e.lineBufs.Acquire()
		defer e.lineBufs.Release(buf)
		// json.Encoder terminates each value with '\n', which is exactly
		// the NDJSON framing.
		if err := json.NewEncoder(buf).Encode(c); err != nil {
			return err
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}
		wrote = true
		if flush != nil {
			flush()
		}
		return nil
	}
	writeToken := func(tok string) error {
		wmu.Lock()
		defer wmu.Unlock()
		if closed {
			// The waiter is gone; w may be a finished response.
			return io.ErrClosedPipe
		}
		return emitLocked(tokenChunk{Token: tok})
	}

	t := sched.RunPriority(e.sched, priorityFor(req), func() task.Result[types.InferenceResult] {
		res, err := e.inferOnce(ctx, req, writeToken)
		if err != nil {
			return task.ErrFrom[types.InferenceResult](err)
		}
		return task.Ok(res)
	})

	res, err := t.Get(ctx)
	wmu.Lock()
	defer wmu.Unlock()
	// No more worker writes after this point, even if the task was
	// abandoned on ctx and is still running.
	closed = true
	if err != nil {
		if wrote {
			// The response is already partially written; close the stream
			// with an error marker instead of an HTTP error.
			_ = emitLocked(tokenChunk{Done: true, FinishReason: "error"})
			return nil
		}
		return err
	}
	return emitLocked(tokenChunk{
		Done:             true,
		Model:            res.Model,
		Provider:         res.Provider,
		CompletionTokens: res.CompletionTokens,
		LatencyMS:        res.LatencyMS,
		FinishReason:     res.FinishReason,
	})
}
