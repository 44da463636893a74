package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"
)

// Cue is one timed line of a transcript. Offsets are seconds from the
// start of the audio.
type Cue struct {
	Start float64
	End   float64
	Text  string
}

// FormatTimestamp renders seconds as HH:MM:SS.mmm. Hours are not wrapped.
func FormatTimestamp(seconds float64) string {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}

	totalMillis := int64(math.Round(seconds * 1000))
	hours := totalMillis / 3_600_000
	minutes := (totalMillis % 3_600_000) / 60_000
	secs := (totalMillis % 60_000) / 1000
	millis := totalMillis % 1000

	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, secs, millis)
}

// Span returns "start --> end".
func (c Cue) Span() string {
	return FormatTimestamp(c.Start) + " --> " + FormatTimestamp(c.End)
}

func (c Cue) String() string {
	return fmt.Sprintf("[%s]: %s", c.Span(), strings.TrimSpace(c.Text))
}

// Lines formats every cue with Cue.String, preserving order.
func Lines(cues []Cue) []string {
	lines := make([]string, 0, len(cues))
	for _, cue := range cues {
		lines = append(lines, cue.String())
	}
	return lines
}

// WriteWebVTT writes cues as a WEBVTT document.
func WriteWebVTT(w io.Writer, cues []Cue) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("WEBVTT\n"); err != nil {
		return err
	}

	for i, cue := range cues {
		text := strings.TrimSpace(cue.Text)
		if _, err := fmt.Fprintf(bw, "\n%d\n%s\n%s\n", i+1, cue.Span(), text); err != nil {
			return err
		}
	}

	return bw.Flush()
}
