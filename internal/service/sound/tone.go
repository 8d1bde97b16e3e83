package sound

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"
)

const (
	toneSampleRate = 22050
	toneAmplitude  = 0.4
	// fade in and out to avoid clicks at the edges
	toneFade = 5 * time.Millisecond
)

// wavHeader is the canonical 44-byte RIFF header for uncompressed PCM.
type wavHeader struct {
	RIFF          [4]byte
	Size          uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// Tone renders a sine beep as a 16-bit mono PCM WAV file.
func Tone(freqHz float64, length time.Duration) []byte {
	samples := int(math.Round(float64(toneSampleRate) * length.Seconds()))
	fade := int(math.Round(float64(toneSampleRate) * toneFade.Seconds()))
	if fade*2 > samples {
		fade = samples / 2
	}

	pcm := make([]int16, samples)
	for i := range pcm {
		gain := toneAmplitude
		switch {
		case i < fade:
			gain *= float64(i) / float64(fade)
		case i >= samples-fade:
			gain *= float64(samples-i) / float64(fade)
		}
		v := math.Sin(2 * math.Pi * freqHz * float64(i) / toneSampleRate)
		pcm[i] = int16(v * gain * math.MaxInt16)
	}

	dataLen := uint32(samples * 2)
	header := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		Size:          36 + dataLen,
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      1,
		SampleRate:    toneSampleRate,
		ByteRate:      toneSampleRate * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataLen,
	}

	var buf bytes.Buffer
	buf.Grow(44 + int(dataLen))
	// writes to a bytes.Buffer cannot fail
	_ = binary.Write(&buf, binary.LittleEndian, header)
	_ = binary.Write(&buf, binary.LittleEndian, pcm)
	return buf.Bytes()
}
