package session

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofiber/contrib/websocket"

	"github.com/teslashibe/go-voiceline/internal/config"
	"github.com/teslashibe/go-voiceline/internal/log"
	"github.com/teslashibe/go-voiceline/pkg/calls"
	"github.com/teslashibe/go-voiceline/pkg/pipeline"
	"github.com/teslashibe/go-voiceline/pkg/segment"
	"github.com/teslashibe/go-voiceline/pkg/twilio"
)

// Config wires a Manager to the process-wide collaborators every session
// shares.
type Config struct {
	Executor *pipeline.Executor
	Registry *calls.Registry

	// Language and Verbosity are stamped onto each session at start.
	Language  string
	Verbosity string

	Logger *slog.Logger
}

// Manager owns every active call session: it builds sessions for incoming
// stream connections, runs their read loops, and aggregates the counters the
// metrics endpoint reports.
type Manager struct {
	exec      *pipeline.Executor
	registry  *calls.Registry
	language  string
	verbosity string
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	frames     atomic.Uint64
	utterances atomic.Uint64
	turns      atomic.Uint64
	failures   atomic.Uint64
}

// Stats is a point-in-time snapshot of the manager's counters.
type Stats struct {
	ActiveCalls          int    `json:"active_calls"`
	FramesReceived       uint64 `json:"frames_received"`
	UtterancesDispatched uint64 `json:"utterances_dispatched"`
	TurnsCompleted       uint64 `json:"turns_completed"`
	StageFailures        uint64 `json:"stage_failures"`
}

// NewManager returns a manager over the shared executor and registry.
func NewManager(cfg Config) *Manager {
	if cfg.Registry == nil {
		cfg.Registry = calls.NewRegistry()
	}
	if cfg.Language == "" {
		cfg.Language = config.DefaultLanguage
	}
	if cfg.Verbosity == "" {
		cfg.Verbosity = config.DefaultVerbosity
	}
	if cfg.Logger == nil {
		cfg.Logger = log.With("component", "session")
	}
	return &Manager{
		exec:      cfg.Executor,
		registry:  cfg.Registry,
		language:  cfg.Language,
		verbosity: cfg.Verbosity,
		logger:    cfg.Logger,
		sessions:  make(map[string]*Session),
	}
}

// NewSession binds a fresh session to an outbound sender. HandleStream does
// this for live connections; tests drive the returned session directly.
func (m *Manager) NewSession(sender Sender) *Session {
	return &Session{
		manager:   m,
		sender:    sender,
		exec:      m.exec,
		registry:  m.registry,
		segmenter: segment.New(segment.Config{}),
		history:   pipeline.NewHistory(),
		language:  m.language,
		verbosity: m.verbosity,
		logger:    m.logger,
	}
}

// HandleStream owns one media-stream connection: messages are read
// sequentially in arrival order and fed to the session until the stream
// stops or the transport fails. Blocks for the life of the connection.
func (m *Manager) HandleStream(conn *websocket.Conn) {
	sess := m.NewSession(&wsSender{conn: conn})
	defer sess.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			sess.logger.Debug("stream read ended", "error", err)
			return
		}
		msg, err := twilio.Parse(data)
		if err != nil {
			sess.logger.Warn("unparseable stream message", "error", err)
			continue
		}
		sess.HandleMessage(msg)
		if msg.Event == twilio.EventStop {
			return
		}
	}
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	m.sessions[s.callSID] = s
	n := len(m.sessions)
	m.mu.Unlock()
	m.logger.Info("session registered", "call_sid", s.callSID, "active", n)
}

func (m *Manager) unregister(s *Session) {
	if s.callSID == "" {
		return
	}
	m.mu.Lock()
	// A reconnect may have replaced the entry; only remove our own.
	if m.sessions[s.callSID] == s {
		delete(m.sessions, s.callSID)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	m.logger.Info("session detached", "call_sid", s.callSID, "active", n)
}

// ActiveCalls reports the number of registered sessions.
func (m *Manager) ActiveCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stats snapshots the manager counters.
func (m *Manager) Stats() Stats {
	return Stats{
		ActiveCalls:          m.ActiveCalls(),
		FramesReceived:       m.frames.Load(),
		UtterancesDispatched: m.utterances.Load(),
		TurnsCompleted:       m.turns.Load(),
		StageFailures:        m.failures.Load(),
	}
}

// wsSender serializes writes onto one stream websocket. The read loop and a
// pipeline goroutine may both hold it; the lock keeps frames whole.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsSender) Send(msg *twilio.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}
