package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

type SilenceMetrics struct {
	RMSdBFS  float64
	PeakdBFS float64
	Samples  int64
}

// IsSilentWAV reports whether both RMS and peak level sit below the
// threshold; the peak gets 6 dB of headroom for clicks.
func IsSilentWAV(path string, thresholdDBFS float64) (bool, SilenceMetrics, error) {
	metrics, err := analyzeWAV(path)
	if err != nil {
		return false, SilenceMetrics{}, err
	}

	if metrics.Samples == 0 {
		return true, metrics, nil
	}

	if math.IsInf(metrics.RMSdBFS, -1) && math.IsInf(metrics.PeakdBFS, -1) {
		return true, metrics, nil
	}

	peakGate := thresholdDBFS + 6
	return metrics.RMSdBFS <= thresholdDBFS && metrics.PeakdBFS <= peakGate, metrics, nil
}

func analyzeWAV(path string) (SilenceMetrics, error) {
	f, err := os.Open(path)
	if err != nil {
		return SilenceMetrics{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	layout, err := readLayout(f)
	if err != nil {
		return SilenceMetrics{}, err
	}

	format := layout.format
	if err := validateFormat(format.AudioFormat, format.BitsPerSample); err != nil {
		return SilenceMetrics{}, err
	}

	if _, err := f.Seek(layout.dataOffset, io.SeekStart); err != nil {
		return SilenceMetrics{}, fmt.Errorf("seek wav data offset: %w", err)
	}

	data := make([]byte, layout.dataSize)
	if _, err := io.ReadFull(f, data); err != nil {
		return SilenceMetrics{}, fmt.Errorf("read wav data: %w", err)
	}

	peak, sumSquares, samples, err := measureSamples(data, format.AudioFormat, format.BitsPerSample)
	if err != nil {
		return SilenceMetrics{}, err
	}

	if samples == 0 {
		return SilenceMetrics{RMSdBFS: math.Inf(-1), PeakdBFS: math.Inf(-1), Samples: 0}, nil
	}

	rms := math.Sqrt(sumSquares / float64(samples))
	return SilenceMetrics{
		RMSdBFS:  amplitudeToDBFS(rms),
		PeakdBFS: amplitudeToDBFS(peak),
		Samples:  samples,
	}, nil
}

func validateFormat(audioFormat, bitsPerSample uint16) error {
	switch audioFormat {
	case formatPCM:
		switch bitsPerSample {
		case 8, 16, 24, 32:
			return nil
		}
	case formatFloat:
		switch bitsPerSample {
		case 32, 64:
			return nil
		}
	}
	return ErrUnsupportedWAV
}

func measureSamples(data []byte, audioFormat, bitsPerSample uint16) (float64, float64, int64, error) {
	bytesPerSample := int(bitsPerSample / 8)
	if bytesPerSample <= 0 {
		return 0, 0, 0, ErrUnsupportedWAV
	}

	var peak float64
	var sumSquares float64
	var samples int64

	for i := 0; i+bytesPerSample <= len(data); i += bytesPerSample {
		value, err := decodeSample(data[i:i+bytesPerSample], audioFormat, bitsPerSample)
		if err != nil {
			return 0, 0, 0, err
		}

		abs := math.Abs(value)
		if abs > peak {
			peak = abs
		}
		sumSquares += value * value
		samples++
	}

	return peak, sumSquares, samples, nil
}

func decodeSample(sample []byte, audioFormat, bitsPerSample uint16) (float64, error) {
	if audioFormat == formatFloat {
		switch bitsPerSample {
		case 32:
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(sample))), nil
		case 64:
			return math.Float64frombits(binary.LittleEndian.Uint64(sample)), nil
		default:
			return 0, ErrUnsupportedWAV
		}
	}

	switch bitsPerSample {
	case 8:
		return (float64(sample[0]) - 128.0) / 128.0, nil
	case 16:
		return float64(int16(binary.LittleEndian.Uint16(sample))) / 32768.0, nil
	case 24:
		v := int32(sample[0]) | int32(sample[1])<<8 | int32(sample[2])<<16
		if v&0x800000 != 0 {
			v |= ^0xFFFFFF
		}
		return float64(v) / 8388608.0, nil
	case 32:
		return float64(int32(binary.LittleEndian.Uint32(sample))) / 2147483648.0, nil
	default:
		return 0, ErrUnsupportedWAV
	}
}

func amplitudeToDBFS(amplitude float64) float64 {
	if amplitude <= 0 {
		return math.Inf(-1)
	}
	return 20.0 * math.Log10(amplitude)
}
