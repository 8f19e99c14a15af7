package audio

import (
	"fmt"
	"math"
)

// Encoding identifies how a raw audio chunk is laid out
type Encoding string

const (
	EncodingPCM16  Encoding = "pcm16"  // 16-bit signed little-endian mono
	EncodingMulaw  Encoding = "mulaw"  // G.711 PCMU
	EncodingOpaque Encoding = "opaque" // Container/codec bytes (webm, ogg...); energy must come from the client
)

// MaxEnergyLevel is the top of the energy scale used by the segmenter
const MaxEnergyLevel = 255.0

// fullScaleRMS maps onto MaxEnergyLevel. Speech rarely exceeds a quarter of
// int16 full scale, so levels saturate there.
const fullScaleRMS = 8192.0

// DecodePCM16 converts little-endian 16-bit PCM bytes into samples
func DecodePCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d", len(data))
	}

	samples := make([]int16, len(data)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples, nil
}

// DecodeMulaw converts G.711 μ-law bytes into linear samples
func DecodeMulaw(data []byte) []int16 {
	samples := make([]int16, len(data))
	for i, b := range data {
		samples[i] = mulawToLinear(b)
	}
	return samples
}

// mulawToLinear converts an 8-bit μ-law sample to 16-bit linear PCM
func mulawToLinear(mulawByte byte) int16 {
	// μ-law bytes are stored inverted
	mulawByte = ^mulawByte

	sign := mulawByte & 0x80
	segment := int32((mulawByte >> 4) & 0x07)
	mantissa := int32(mulawByte & 0x0F)

	step := mantissa << (segment + 1)
	step += int32(33) << segment
	magnitude := step - 33

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// EnergyLevel maps the RMS of samples onto the 0..255 scale the segmenter
// thresholds against.
func EnergyLevel(samples []int16) float64 {
	level := CalculateRMS(samples) / fullScaleRMS * MaxEnergyLevel
	if level > MaxEnergyLevel {
		return MaxEnergyLevel
	}
	return level
}

// EnergyFromChunk computes the energy level of one tick's raw chunk
func EnergyFromChunk(data []byte, encoding Encoding) (float64, error) {
	switch encoding {
	case EncodingPCM16, "":
		samples, err := DecodePCM16(data)
		if err != nil {
			return 0, err
		}
		return EnergyLevel(samples), nil
	case EncodingMulaw:
		return EnergyLevel(DecodeMulaw(data)), nil
	default:
		return 0, fmt.Errorf("cannot measure energy of %q audio", encoding)
	}
}
