package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrUnsupportedWAV = errors.New("unsupported wav format")
	ErrInvalidWAV     = errors.New("invalid wav file")
)

const (
	formatPCM   uint16 = 1
	formatFloat uint16 = 3

	// whisper.cpp reads 16 kHz mono 16-bit PCM without resampling.
	WhisperSampleRate = 16000
)

// Format is the fmt chunk of a RIFF/WAVE file.
type Format struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// WhisperReady reports whether whisper.cpp can read the file as is.
func (f Format) WhisperReady() bool {
	return f.AudioFormat == formatPCM && f.Channels == 1 && f.SampleRate == WhisperSampleRate && f.BitsPerSample == 16
}

type wavLayout struct {
	format     Format
	dataOffset int64
	dataSize   uint32
}

// ProbeWAV reads only the headers of the file at path.
func ProbeWAV(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return Format{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	layout, err := readLayout(f)
	if err != nil {
		return Format{}, err
	}
	return layout.format, nil
}

// IsWhisperReadyWAV is ProbeWAV reduced to a yes/no; unreadable or non-WAV
// input is simply not ready.
func IsWhisperReadyWAV(path string) bool {
	format, err := ProbeWAV(path)
	return err == nil && format.WhisperReady()
}

func readLayout(r io.ReadSeeker) (wavLayout, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return wavLayout{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
		}
		return wavLayout{}, fmt.Errorf("read wav header: %w", err)
	}

	if string(header[:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return wavLayout{}, ErrInvalidWAV
	}

	var (
		layout  wavLayout
		hasFmt  bool
		hasData bool
	)

	for !hasFmt || !hasData {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(r, chunkHeader); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return wavLayout{}, fmt.Errorf("read wav chunk header: %w", err)
		}

		chunkID := string(chunkHeader[:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		chunkStart, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return wavLayout{}, fmt.Errorf("seek wav chunk start: %w", err)
		}

		skip := int64(chunkSize)
		if chunkSize%2 != 0 {
			skip++
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return wavLayout{}, ErrInvalidWAV
			}

			buf := make([]byte, 16)
			if _, err := io.ReadFull(r, buf); err != nil {
				return wavLayout{}, fmt.Errorf("read wav fmt chunk: %w", err)
			}

			layout.format = Format{
				AudioFormat:   binary.LittleEndian.Uint16(buf[0:2]),
				Channels:      binary.LittleEndian.Uint16(buf[2:4]),
				SampleRate:    binary.LittleEndian.Uint32(buf[4:8]),
				BitsPerSample: binary.LittleEndian.Uint16(buf[14:16]),
			}
			hasFmt = true
		case "data":
			layout.dataOffset = chunkStart
			layout.dataSize = chunkSize
			hasData = true
		}

		if _, err := r.Seek(chunkStart+skip, io.SeekStart); err != nil {
			return wavLayout{}, fmt.Errorf("seek past wav chunk %s: %w", chunkID, err)
		}
	}

	if !hasFmt || !hasData {
		return wavLayout{}, ErrInvalidWAV
	}

	return layout, nil
}
