package rtc

import (
	"strings"

	"github.com/pion/logging"
	"github.com/rs/zerolog/log"
)

// Observer receives one event per SRTP unprotect failure seen in the
// transport's log stream.
type Observer interface {
	Observe()
}

// loggerFactory bridges pion's leveled logging onto zerolog and feeds
// crypto failures on the media path to the observer.
type loggerFactory struct {
	sink Observer
}

func (f *loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &scopedLogger{scope: scope, sink: f.sink}
}

type scopedLogger struct {
	scope string
	sink  Observer
}

// observeFailure matches the unprotect-failure class: anything the srtp
// scope raises at warn or above, or decrypt wording from other scopes.
func (l *scopedLogger) observeFailure(msg string) {
	if l.sink == nil {
		return
	}
	m := strings.ToLower(msg)
	if l.scope == "srtp" || strings.Contains(m, "unprotect") || strings.Contains(m, "decrypt") || strings.Contains(m, "auth tag") {
		l.sink.Observe()
	}
}

func (l *scopedLogger) Trace(msg string) {
	log.Trace().Str("module", "webrtc").Str("scope", l.scope).Msg(msg)
}

func (l *scopedLogger) Tracef(format string, args ...interface{}) {
	log.Trace().Str("module", "webrtc").Str("scope", l.scope).Msgf(format, args...)
}

func (l *scopedLogger) Debug(msg string) {
	log.Debug().Str("module", "webrtc").Str("scope", l.scope).Msg(msg)
}

func (l *scopedLogger) Debugf(format string, args ...interface{}) {
	log.Debug().Str("module", "webrtc").Str("scope", l.scope).Msgf(format, args...)
}

func (l *scopedLogger) Info(msg string) {
	log.Debug().Str("module", "webrtc").Str("scope", l.scope).Msg(msg)
}

func (l *scopedLogger) Infof(format string, args ...interface{}) {
	log.Debug().Str("module", "webrtc").Str("scope", l.scope).Msgf(format, args...)
}

func (l *scopedLogger) Warn(msg string) {
	l.observeFailure(msg)
	log.Warn().Str("module", "webrtc").Str("scope", l.scope).Msg(msg)
}

func (l *scopedLogger) Warnf(format string, args ...interface{}) {
	l.observeFailure(format)
	log.Warn().Str("module", "webrtc").Str("scope", l.scope).Msgf(format, args...)
}

func (l *scopedLogger) Error(msg string) {
	l.observeFailure(msg)
	log.Error().Str("module", "webrtc").Str("scope", l.scope).Msg(msg)
}

func (l *scopedLogger) Errorf(format string, args ...interface{}) {
	l.observeFailure(format)
	log.Error().Str("module", "webrtc").Str("scope", l.scope).Msgf(format, args...)
}
