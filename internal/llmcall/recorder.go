package llmcall

import (
	"github.com/jackzampolin/labscan/internal/providers"
)

// Recorder handles fire-and-forget model call recording into a Store.
type Recorder struct {
	store *Store
}

// NewRecorder creates a new call recorder.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

// Record captures a model call.
func (r *Recorder) Record(result *providers.GenerateResult, client providers.LLMClient, opts RecordOptions) {
	if r == nil || r.store == nil {
		return // No store configured, skip recording
	}
	r.store.Add(FromGenerateResult(result, client, opts))
}

// RecordCall captures an already-constructed Call.
func (r *Recorder) RecordCall(call *Call) {
	if r == nil || r.store == nil || call == nil {
		return
	}
	r.store.Add(call)
}
