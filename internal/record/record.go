// Package record captures per-direction audio into WAV files.
package record

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog/log"

	"github.com/airband/gateway/internal/domain"
)

// ErrDisabled is returned by Start while recording is switched off.
var ErrDisabled = errors.New("recording disabled")

const defaultTimestampFormat = "20060102_150405"

// Recorder writes mono 16-bit WAV files, one open writer per direction at
// most. Starting a direction stops the opposite one, so RX and TX
// capture never run at the same time.
type Recorder struct {
	mu       sync.Mutex
	enabled  bool
	dir      string
	tsFormat string
	writers  map[domain.Direction]*writer

	rxGain atomic.Uint64
	txGain atomic.Uint64

	now func() time.Time
}

type writer struct {
	f    *os.File
	enc  *wav.Encoder
	path string
	rate int
}

// New builds a disabled recorder with unity gain on both directions.
func New() *Recorder {
	r := &Recorder{
		tsFormat: defaultTimestampFormat,
		writers:  make(map[domain.Direction]*writer),
		now:      time.Now,
	}
	r.rxGain.Store(math.Float64bits(1))
	r.txGain.Store(math.Float64bits(1))
	return r
}

// Configure switches recording on or off and sets the target directory and
// filename timestamp layout. Turning recording off closes open writers.
func (r *Recorder) Configure(enabled bool, dir, tsFormat string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.enabled = enabled
	r.dir = dir
	if tsFormat != "" {
		r.tsFormat = tsFormat
	}
	if !enabled {
		r.closeAllLocked()
	}
}

// SetGainDB sets the per-direction recording gain in decibels. The linear
// factor is read atomically by Tap, so gain changes apply mid-file.
func (r *Recorder) SetGainDB(rxDb, txDb float64) {
	r.rxGain.Store(math.Float64bits(math.Pow(10, rxDb/20)))
	r.txGain.Store(math.Float64bits(math.Pow(10, txDb/20)))
}

// Start opens a new WAV file for the direction, stopping the opposite
// direction first. Starting a direction that is already recording keeps
// the current file.
func (r *Recorder) Start(dir domain.Direction, label string, sampleRate int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return ErrDisabled
	}
	if sampleRate <= 0 {
		return fmt.Errorf("recording start: sample rate %d", sampleRate)
	}
	if _, ok := r.writers[dir]; ok {
		return nil
	}

	r.closeAllLocked()

	if r.dir != "" {
		if err := os.MkdirAll(r.dir, 0o755); err != nil {
			return fmt.Errorf("recording start: %w", err)
		}
	}

	name := fmt.Sprintf("%s_%s_%s.wav",
		r.now().UTC().Format(r.tsFormat), sanitizeLabel(label), dir)
	path := filepath.Join(r.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recording start: %w", err)
	}
	r.writers[dir] = &writer{
		f:    f,
		enc:  wav.NewEncoder(f, sampleRate, 16, 1, 1),
		path: path,
		rate: sampleRate,
	}

	log.Info().Str("module", "record").
		Str("direction", dir.String()).
		Str("file", path).
		Int("rate", sampleRate).
		Msg("recording started")
	return nil
}

// Stop closes all open writers. Safe to call repeatedly.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeAllLocked()
}

// Tap appends samples to the writer for the direction, if one is open,
// scaling by the direction gain. Samples are dropped while no writer is
// open, so the live path never blocks on recording state.
func (r *Recorder) Tap(dir domain.Direction, samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.writers[dir]
	if !ok {
		return
	}

	gain := r.gain(dir)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(clamp(float64(s) * gain))
	}

	err := w.enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: w.rate},
		Data:           data,
		SourceBitDepth: 16,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "record").
			Str("file", w.path).
			Msg("recording write failed, closing file")
		w.close()
		delete(r.writers, dir)
	}
}

// Active reports whether a writer is open for the direction. The pipeline
// uses it to skip the recording decode while nothing would consume it.
func (r *Recorder) Active(dir domain.Direction) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.writers[dir]
	return ok
}

// Status reports whether recording is enabled and which files are open.
type Status struct {
	Enabled bool   `json:"enabled"`
	RXFile  string `json:"rx_file,omitempty"`
	TXFile  string `json:"tx_file,omitempty"`
}

func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Status{Enabled: r.enabled}
	if w, ok := r.writers[domain.DirectionRX]; ok {
		s.RXFile = w.path
	}
	if w, ok := r.writers[domain.DirectionTX]; ok {
		s.TXFile = w.path
	}
	return s
}

func (r *Recorder) gain(dir domain.Direction) float64 {
	if dir == domain.DirectionRX {
		return math.Float64frombits(r.rxGain.Load())
	}
	return math.Float64frombits(r.txGain.Load())
}

// closeAllLocked is called with mu held.
func (r *Recorder) closeAllLocked() {
	for dir, w := range r.writers {
		w.close()
		log.Info().Str("module", "record").
			Str("direction", dir.String()).
			Str("file", w.path).
			Msg("recording stopped")
		delete(r.writers, dir)
	}
}

func (w *writer) close() {
	if err := w.enc.Close(); err != nil {
		log.Error().Err(err).Str("module", "record").
			Str("file", w.path).
			Msg("finalize wav header")
	}
	if err := w.f.Close(); err != nil {
		log.Error().Err(err).Str("module", "record").
			Str("file", w.path).
			Msg("close wav file")
	}
}

func sanitizeLabel(label string) string {
	if label == "" {
		return "session"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, label)
}

func clamp(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
