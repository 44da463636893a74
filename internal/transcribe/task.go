// Package transcribe is the request pipeline: stage the upload, prepare
// audio, run one inference behind a concurrency limit and shape the result.
package transcribe

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fmueller/whisperd/internal/whisper"
)

type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
	TaskSubtitle   Task = "subtitle"
)

var ErrUnknownTask = errors.New("unknown task")

var taskAliases = map[string]Task{
	"transcribe":    TaskTranscribe,
	"transcription": TaskTranscribe,
	"translate":     TaskTranslate,
	"translation":   TaskTranslate,
	"subtitle":      TaskSubtitle,
	"subtitles":     TaskSubtitle,
	"webvtt":        TaskSubtitle,
	"vtt":           TaskSubtitle,
}

// Tasks lists the canonical task names.
func Tasks() []Task {
	return []Task{TaskTranscribe, TaskTranslate, TaskSubtitle}
}

// ParseTask maps a task selector, including the older names
// "translation" and "WebVTT", onto the closed task set.
func ParseTask(input string) (Task, error) {
	task, ok := taskAliases[strings.ToLower(strings.TrimSpace(input))]
	if !ok {
		return "", fmt.Errorf("%w %q (expected transcribe, translate or subtitle)", ErrUnknownTask, input)
	}
	return task, nil
}

func (t Task) Valid() bool {
	switch t {
	case TaskTranscribe, TaskTranslate, TaskSubtitle:
		return true
	default:
		return false
	}
}

// Mode is the engine mode for the task. Subtitles are always produced in
// the spoken language.
func (t Task) Mode() whisper.Mode {
	if t == TaskTranslate {
		return whisper.ModeTranslate
	}
	return whisper.ModeTranscribe
}

func (t Task) String() string { return string(t) }
