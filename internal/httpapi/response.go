package httpapi

import (
	"github.com/fmueller/whisperd/internal/apperr"
	"github.com/fmueller/whisperd/internal/transcribe"
)

// Envelope is the body of every /whisper response. Results always holds
// exactly one entry.
type Envelope struct {
	Results []Entry `json:"results"`
}

// Entry.Result is a string, a list of cue lines, or an ErrorBody.
type Entry struct {
	Result any `json:"result"`
}

type ErrorBody struct {
	Error     string      `json:"error"`
	Code      apperr.Code `json:"code"`
	Retryable bool        `json:"retryable,omitempty"`
}

func envelope(result any) Envelope {
	return Envelope{Results: []Entry{{Result: result}}}
}

// NewEnvelope wraps a pipeline result the way /whisper returns it.
func NewEnvelope(result transcribe.Result) Envelope {
	if result.Task == transcribe.TaskSubtitle {
		return envelope(result.Lines())
	}
	return envelope(result.Text)
}

func errorEnvelope(err *apperr.Error) Envelope {
	return envelope(ErrorBody{
		Error:     err.Message,
		Code:      err.Code,
		Retryable: err.Retryable,
	})
}
