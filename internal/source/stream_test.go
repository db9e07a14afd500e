package source

import (
	"encoding/binary"
	"math"
	"testing"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/streekomroep/voxcap/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpectrumFrameSilence(t *testing.T) {
	fft := fourier.NewFFT(types.FFTSize)
	frame := spectrumFrame(fft, make([]float64, types.FFTSize))

	require.Len(t, frame, types.BinCount)
	for _, v := range frame {
		assert.Zero(t, v)
	}
}

func TestSpectrumFrameFullScaleSine(t *testing.T) {
	const bin = 16

	samples := make([]float64, types.FFTSize)
	for i := range samples {
		samples[i] = math.Sin(2 * math.Pi * bin * float64(i) / types.FFTSize)
	}

	fft := fourier.NewFFT(types.FFTSize)
	frame := spectrumFrame(fft, samples)

	// Energy concentrates in the sine's bin at full scale.
	assert.InDelta(t, types.MaxLevel, frame[bin], 1e-6)
	assert.InDelta(t, 0, frame[bin+1], 1e-6)
	assert.InDelta(t, 0, frame[0], 1e-6)
}

func TestSpectrumFrameClampsToVolumeDomain(t *testing.T) {
	// A DC offset of 2x full scale would exceed MaxLevel unclamped.
	samples := make([]float64, types.FFTSize)
	for i := range samples {
		samples[i] = 2
	}

	fft := fourier.NewFFT(types.FFTSize)
	frame := spectrumFrame(fft, samples)

	for _, v := range frame {
		assert.LessOrEqual(t, v, types.MaxLevel)
	}
}

func TestPCMStreamDownmix(t *testing.T) {
	stream := &PCMStream{window: make([]float64, types.FFTSize)}

	// One stereo frame: left = 16384, right = -16384 downmixes to zero;
	// a second frame of 16384/16384 downmixes to 0.5.
	data := make([]byte, 8)
	binary.LittleEndian.PutUint16(data[0:], uint16(int16(16384)))
	negSample := int16(-16384)
	binary.LittleEndian.PutUint16(data[2:], uint16(negSample))
	binary.LittleEndian.PutUint16(data[4:], uint16(int16(16384)))
	binary.LittleEndian.PutUint16(data[6:], uint16(int16(16384)))

	stream.consume(data)

	snapshot := stream.windowSnapshot()
	require.Len(t, snapshot, types.FFTSize)

	// The ring is ordered oldest to newest; the two fresh samples sit at
	// the end of the snapshot.
	assert.InDelta(t, 0, snapshot[types.FFTSize-2], 1e-9)
	assert.InDelta(t, 0.5, snapshot[types.FFTSize-1], 1e-9)
}

func TestPCMStreamSinkTee(t *testing.T) {
	stream := &PCMStream{window: make([]float64, types.FFTSize)}

	var sink testSink
	stream.AttachSink(&sink)

	data := make([]byte, 16)
	stream.consume(data)
	require.Equal(t, 16, sink.n)

	stream.DetachSink()
	stream.consume(data)
	assert.Equal(t, 16, sink.n)
}

type testSink struct {
	n int
}

func (s *testSink) Write(p []byte) (int, error) {
	s.n += len(p)
	return len(p), nil
}
