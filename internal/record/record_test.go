package record

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airband/gateway/internal/domain"
)

func fixedClock() time.Time {
	return time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
}

func newTestRecorder(t *testing.T) (*Recorder, string) {
	t.Helper()
	dir := t.TempDir()
	r := New()
	r.now = fixedClock
	r.Configure(true, dir, "")
	return r, dir
}

func readWav(t *testing.T, path string) ([]int, int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	d := wav.NewDecoder(f)
	buf, err := d.FullPCMBuffer()
	require.NoError(t, err)
	return buf.Data, buf.Format.SampleRate
}

func TestStartWhileDisabled(t *testing.T) {
	r := New()
	err := r.Start(domain.DirectionRX, "tower", 8000)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestStartNamesFile(t *testing.T) {
	r, dir := newTestRecorder(t)

	require.NoError(t, r.Start(domain.DirectionRX, "Tower 118.7", 8000))
	r.Stop()

	want := filepath.Join(dir, "20250314_092653_Tower_118.7_rx.wav")
	_, err := os.Stat(want)
	assert.NoError(t, err)
}

func TestTapWritesSamples(t *testing.T) {
	r, _ := newTestRecorder(t)

	require.NoError(t, r.Start(domain.DirectionTX, "ground", 16000))
	r.Tap(domain.DirectionTX, []int16{0, 1000, -1000, 32767})
	r.Tap(domain.DirectionTX, []int16{5, 6})
	path := r.Status().TXFile
	r.Stop()

	data, rate := readWav(t, path)
	assert.Equal(t, 16000, rate)
	assert.Equal(t, []int{0, 1000, -1000, 32767, 5, 6}, data)
}

func TestGainAppliesOnTap(t *testing.T) {
	r, _ := newTestRecorder(t)
	r.SetGainDB(-6.0206, 0)

	require.NoError(t, r.Start(domain.DirectionRX, "tower", 8000))
	r.Tap(domain.DirectionRX, []int16{1000, -2000})
	path := r.Status().RXFile
	r.Stop()

	data, _ := readWav(t, path)
	require.Len(t, data, 2)
	assert.InDelta(t, 500, data[0], 1)
	assert.InDelta(t, -1000, data[1], 1)
}

func TestGainClampsToPCMRange(t *testing.T) {
	r, _ := newTestRecorder(t)
	r.SetGainDB(20, 20)

	require.NoError(t, r.Start(domain.DirectionRX, "tower", 8000))
	r.Tap(domain.DirectionRX, []int16{30000, -30000})
	path := r.Status().RXFile
	r.Stop()

	data, _ := readWav(t, path)
	assert.Equal(t, []int{32767, -32768}, data)
}

func TestDirectionsAreMutuallyExclusive(t *testing.T) {
	r, _ := newTestRecorder(t)

	require.NoError(t, r.Start(domain.DirectionRX, "tower", 8000))
	rxPath := r.Status().RXFile
	require.NotEmpty(t, rxPath)

	require.NoError(t, r.Start(domain.DirectionTX, "tower", 8000))
	st := r.Status()
	assert.Empty(t, st.RXFile)
	assert.NotEmpty(t, st.TXFile)

	// The RX file must be finalized and readable once TX takes over.
	_, rate := readWav(t, rxPath)
	assert.Equal(t, 8000, rate)
}

func TestStartKeepsCurrentFile(t *testing.T) {
	r, _ := newTestRecorder(t)

	require.NoError(t, r.Start(domain.DirectionRX, "tower", 8000))
	path := r.Status().RXFile

	require.NoError(t, r.Start(domain.DirectionRX, "tower", 8000))
	assert.Equal(t, path, r.Status().RXFile)
}

func TestStopIsIdempotent(t *testing.T) {
	r, _ := newTestRecorder(t)

	require.NoError(t, r.Start(domain.DirectionRX, "tower", 8000))
	r.Stop()
	r.Stop()

	st := r.Status()
	assert.Empty(t, st.RXFile)
	assert.Empty(t, st.TXFile)
}

func TestTapWithoutWriterDropsSamples(t *testing.T) {
	r, _ := newTestRecorder(t)
	r.Tap(domain.DirectionRX, []int16{1, 2, 3})

	st := r.Status()
	assert.Empty(t, st.RXFile)
}

func TestDisableClosesWriters(t *testing.T) {
	r, dir := newTestRecorder(t)

	require.NoError(t, r.Start(domain.DirectionTX, "tower", 8000))
	r.Configure(false, dir, "")

	assert.Empty(t, r.Status().TXFile)
	err := r.Start(domain.DirectionTX, "tower", 8000)
	assert.ErrorIs(t, err, ErrDisabled)
}
