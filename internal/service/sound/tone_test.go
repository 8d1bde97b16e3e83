package sound

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToneIsPCMWave(t *testing.T) {
	wav := Tone(880, 200*time.Millisecond)

	var header wavHeader
	require.NoError(t, binary.Read(bytes.NewReader(wav), binary.LittleEndian, &header))

	assert.Equal(t, "RIFF", string(header.RIFF[:]))
	assert.Equal(t, "WAVE", string(header.WAVE[:]))
	assert.Equal(t, uint16(1), header.AudioFormat)
	assert.Equal(t, uint16(1), header.Channels)
	assert.Equal(t, uint16(16), header.BitsPerSample)
	assert.Equal(t, uint32(toneSampleRate), header.SampleRate)

	samples := toneSampleRate / 5
	assert.Equal(t, uint32(samples*2), header.DataSize)
	assert.Len(t, wav, 44+samples*2)
	assert.Equal(t, uint32(len(wav)-8), header.Size)
}

func TestToneFadesAtEdges(t *testing.T) {
	wav := Tone(880, 100*time.Millisecond)
	pcm := make([]int16, (len(wav)-44)/2)
	require.NoError(t, binary.Read(bytes.NewReader(wav[44:]), binary.LittleEndian, pcm))

	assert.Zero(t, pcm[0])

	var peak int16
	for _, v := range pcm {
		if v > peak {
			peak = v
		}
	}
	assert.Greater(t, peak, int16(10000))
}
