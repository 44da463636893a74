package audio

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeWAV(t *testing.T, content []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func sine(n int, amplitude float64) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*440*float64(i)/16000.0))
	}
	return samples
}

func TestIsSilentWAV(t *testing.T) {
	t.Parallel()

	click := make([]int16, 16000)
	click[8000] = 16000

	tests := []struct {
		name   string
		wav    []byte
		silent bool
	}{
		{name: "digital silence", wav: makePCM16WAV(make([]int16, 16000), 16000, 1), silent: true},
		{name: "no samples", wav: makePCM16WAV(nil, 16000, 1), silent: true},
		{name: "tone", wav: makePCM16WAV(sine(16000, 0.25), 16000, 1), silent: false},
		{name: "noise floor", wav: makePCM16WAV(sine(16000, 0.0001), 16000, 1), silent: true},
		{name: "single click", wav: makePCM16WAV(click, 16000, 1), silent: false},
		{name: "stereo tone", wav: makePCM16WAV(sine(3200, 0.5), 16000, 2), silent: false},
		{name: "8-bit midpoint", wav: makeWAV(formatPCM, 8, 1, 16000, []byte{128, 128, 128, 128}), silent: true},
		{name: "24-bit loud", wav: makeWAV(formatPCM, 24, 1, 16000, []byte{0x00, 0x00, 0x40, 0x00, 0x00, 0xC0}), silent: false},
		{name: "float32 silence", wav: makeWAV(formatFloat, 32, 1, 16000, make([]byte, 64)), silent: true},
		{name: "float32 loud", wav: makeWAV(formatFloat, 32, 1, 16000, float32Bytes(0.5, -0.5)), silent: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			silent, _, err := IsSilentWAV(writeWAV(t, tt.wav), -65)
			require.NoError(t, err)
			require.Equal(t, tt.silent, silent)
		})
	}
}

func TestIsSilentWAVReportsLevels(t *testing.T) {
	t.Parallel()

	_, metrics, err := IsSilentWAV(writeWAV(t, makePCM16WAV(make([]int16, 16000), 16000, 1)), -65)
	require.NoError(t, err)
	require.True(t, math.IsInf(metrics.RMSdBFS, -1))
	require.True(t, math.IsInf(metrics.PeakdBFS, -1))
	require.EqualValues(t, 16000, metrics.Samples)

	_, metrics, err = IsSilentWAV(writeWAV(t, makePCM16WAV(sine(16000, 0.25), 16000, 1)), -65)
	require.NoError(t, err)
	require.InDelta(t, -12.0, metrics.PeakdBFS, 0.5)
	require.InDelta(t, -15.1, metrics.RMSdBFS, 0.5)
}

func TestIsSilentWAVThresholdIsConfigurable(t *testing.T) {
	t.Parallel()

	path := writeWAV(t, makePCM16WAV(sine(16000, 0.01), 16000, 1))

	silent, _, err := IsSilentWAV(path, -65)
	require.NoError(t, err)
	require.False(t, silent)

	silent, _, err = IsSilentWAV(path, -30)
	require.NoError(t, err)
	require.True(t, silent)
}

func TestIsSilentWAVRejectsUndecodableAudio(t *testing.T) {
	t.Parallel()

	_, _, err := IsSilentWAV(writeWAV(t, []byte("hello")), -65)
	require.ErrorIs(t, err, ErrInvalidWAV)

	_, _, err = IsSilentWAV(writeWAV(t, makeWAV(formatPCM, 12, 1, 16000, make([]byte, 6))), -65)
	require.ErrorIs(t, err, ErrUnsupportedWAV)

	_, _, err = IsSilentWAV(filepath.Join(t.TempDir(), "missing.wav"), -65)
	require.Error(t, err)
}

func float32Bytes(values ...float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func makePCM16WAV(samples []int16, sampleRate int, channels int) []byte {
	data := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(s))
	}
	return makeWAV(formatPCM, 16, channels, sampleRate, data)
}

// makeWAV wraps raw sample bytes in a minimal RIFF/WAVE container.
func makeWAV(audioFormat uint16, bitsPerSample, channels, sampleRate int, data []byte) []byte {
	const fmtSize = 16
	blockAlign := channels * bitsPerSample / 8

	out := make([]byte, 0, 44+len(data))
	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(4+8+fmtSize+8+len(data)))
	out = append(out, "WAVE"...)

	out = append(out, "fmt "...)
	out = binary.LittleEndian.AppendUint32(out, fmtSize)
	out = binary.LittleEndian.AppendUint16(out, audioFormat)
	out = binary.LittleEndian.AppendUint16(out, uint16(channels))
	out = binary.LittleEndian.AppendUint32(out, uint32(sampleRate))
	out = binary.LittleEndian.AppendUint32(out, uint32(sampleRate*blockAlign))
	out = binary.LittleEndian.AppendUint16(out, uint16(blockAlign))
	out = binary.LittleEndian.AppendUint16(out, uint16(bitsPerSample))

	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(data)))
	return append(out, data...)
}
