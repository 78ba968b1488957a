package notify

import (
	"sync"

	"go.uber.org/zap"
)

type Severity string

const (
	Info    Severity = "info"
	Success Severity = "success"
	Warning Severity = "warning"
	Error   Severity = "error"
)

// Sink receives user-facing messages (toasts on the terminal screen).
type Sink interface {
	Notify(message string, severity Severity)
}

type Message struct {
	Text     string   `json:"text"`
	Severity Severity `json:"severity"`
}

type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("notify")}
}

func (s *LogSink) Notify(message string, severity Severity) {
	switch severity {
	case Error:
		s.logger.Error(message)
	case Warning:
		s.logger.Warn(message)
	default:
		s.logger.Info(message, zap.String("severity", string(severity)))
	}
}

// Recorder keeps the most recent messages so the screen can poll them.
type Recorder struct {
	mu       sync.Mutex
	limit    int
	messages []Message
	next     Sink
}

func NewRecorder(limit int, next Sink) *Recorder {
	if limit < 1 {
		limit = 50
	}
	return &Recorder{limit: limit, next: next}
}

func (r *Recorder) Notify(message string, severity Severity) {
	r.mu.Lock()
	r.messages = append(r.messages, Message{Text: message, Severity: severity})
	if len(r.messages) > r.limit {
		r.messages = r.messages[len(r.messages)-r.limit:]
	}
	r.mu.Unlock()

	if r.next != nil {
		r.next.Notify(message, severity)
	}
}

// Drain returns and clears the buffered messages.
func (r *Recorder) Drain() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.messages
	r.messages = nil
	return out
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Message(nil), r.messages...)
}
