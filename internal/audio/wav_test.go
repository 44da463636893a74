package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProbeWAVReadsFormat(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, makePCM16WAV(make([]int16, 320), 16000, 1), 0o644))

	format, err := ProbeWAV(path)
	require.NoError(t, err)
	require.Equal(t, Format{AudioFormat: 1, Channels: 1, SampleRate: 16000, BitsPerSample: 16}, format)
	require.True(t, format.WhisperReady())
	require.True(t, IsWhisperReadyWAV(path))
}

func TestProbeWAVStereoNeedsConversion(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stereo.wav")
	require.NoError(t, os.WriteFile(path, makePCM16WAV(make([]int16, 640), 44100, 2), 0o644))

	format, err := ProbeWAV(path)
	require.NoError(t, err)
	require.EqualValues(t, 2, format.Channels)
	require.EqualValues(t, 44100, format.SampleRate)
	require.False(t, format.WhisperReady())
}

func TestProbeWAVSkipsUnknownChunks(t *testing.T) {
	t.Parallel()

	wav := makePCM16WAV(make([]int16, 16), 16000, 1)
	list := make([]byte, 8+3+1)
	copy(list, "LIST")
	binary.LittleEndian.PutUint32(list[4:], 3)
	copy(list[8:], "abc")

	withList := append(append(append([]byte{}, wav[:12]...), list...), wav[12:]...)
	path := filepath.Join(t.TempDir(), "list.wav")
	require.NoError(t, os.WriteFile(path, withList, 0o644))

	format, err := ProbeWAV(path)
	require.NoError(t, err)
	require.True(t, format.WhisperReady())

	silent, _, err := IsSilentWAV(path, -65)
	require.NoError(t, err)
	require.True(t, silent)
}

func TestIsWhisperReadyWAVRejectsOtherContainers(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clip.mp3")
	require.NoError(t, os.WriteFile(path, []byte("ID3\x04\x00\x00\x00\x00\x00\x00"), 0o644))

	require.False(t, IsWhisperReadyWAV(path))
	_, err := ProbeWAV(path)
	require.ErrorIs(t, err, ErrInvalidWAV)
	require.False(t, IsWhisperReadyWAV(filepath.Join(t.TempDir(), "missing.wav")))
}
