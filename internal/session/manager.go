package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/whisperstream/internal/observe"
	"github.com/MrWong99/whisperstream/internal/transcript"
	"github.com/MrWong99/whisperstream/pkg/audio"
	"github.com/MrWong99/whisperstream/pkg/provider/stt"
	"github.com/MrWong99/whisperstream/pkg/provider/vad/energy"
	"github.com/MrWong99/whisperstream/pkg/segment"
)

// Manager errors.
var (
	// ErrTooManySessions is returned by Open when the session limit is reached.
	ErrTooManySessions = errors.New("session: too many active sessions")

	// ErrDuplicateID is returned by Open when the requested ID is in use.
	ErrDuplicateID = errors.New("session: duplicate session id")
)

// Mode selects the segmentation strategy of new sessions.
type Mode string

const (
	// ModeStream segments on voice activity.
	ModeStream Mode = "stream"
	// ModeStep transcribes fixed-size steps with overlap.
	ModeStep Mode = "step"
)

// Default session parameters.
const (
	defaultQueueSize = 64
	defaultStepMs    = 3000
)

// Settings are the segmentation parameters applied to newly opened sessions.
// Live sessions keep the settings they were opened with.
type Settings struct {
	// Mode is ModeStream or ModeStep. Defaults to ModeStream.
	Mode Mode

	// Segment configures every segmenter.
	Segment segment.Config

	// StepMs is the amount of audio accumulated per step in ModeStep.
	StepMs int

	// MinSilenceWindowMs and MaxSilenceMs are the per-chunk defaults passed
	// to the segmenter when a Chunk does not override them.
	MinSilenceWindowMs int
	MaxSilenceMs       int

	// QueueSize bounds each session's chunk queue.
	QueueSize int

	// NoiseFloor configures the detector noise floor.
	NoiseFloor energy.NoiseFloorConfig

	// SharedNoiseFloor makes every session adapt one process-wide floor.
	SharedNoiseFloor bool
}

// Options customise a single session.
type Options struct {
	// ID is the session identifier. A random UUID is generated when empty.
	ID string

	// Mode overrides the configured segmentation mode when set.
	Mode Mode

	// Language overrides the configured transcription language. "auto"
	// selects auto-detection.
	Language string

	// MinSilenceWindowMs and MaxSilenceMs override the manager defaults for
	// this session when positive.
	MinSilenceWindowMs int
	MaxSilenceMs       int

	// AudioClock times silence by the amount of audio pushed instead of the
	// wall clock. Set it for recorded audio pushed faster than real time.
	AudioClock bool
}

// ManagerOption is a functional option for [NewManager].
type ManagerOption func(*Manager)

// WithStore persists transcripts to st.
func WithStore(st transcript.Store) ManagerOption {
	return func(m *Manager) { m.store = st }
}

// WithMetrics records session metrics on met.
func WithMetrics(met *observe.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = met }
}

// WithMaxSessions caps the number of concurrently open sessions. Zero means
// unlimited.
func WithMaxSessions(n int) ManagerOption {
	return func(m *Manager) { m.maxSessions = n }
}

// WithLogger sets the base logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClock sets the time source handed to segmenters.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager creates and tracks sessions. All methods are safe for concurrent
// use.
type Manager struct {
	tr          stt.Transcriber
	store       transcript.Store
	metrics     *observe.Metrics
	maxSessions int
	log         *slog.Logger
	now         func() time.Time

	mu          sync.Mutex
	settings    Settings
	sessions    map[string]*Session
	sharedFloor *energy.NoiseFloor
	closed      bool
}

// NewManager returns a Manager submitting every span to tr.
func NewManager(tr stt.Transcriber, settings Settings, opts ...ManagerOption) *Manager {
	m := &Manager{
		tr:       tr,
		log:      slog.Default(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	m.settings = withDefaults(settings)
	if m.settings.SharedNoiseFloor {
		m.sharedFloor = energy.NewNoiseFloor(m.settings.NoiseFloor)
	}
	return m
}

func withDefaults(s Settings) Settings {
	if s.Mode == "" {
		s.Mode = ModeStream
	}
	if s.QueueSize <= 0 {
		s.QueueSize = defaultQueueSize
	}
	if s.StepMs <= 0 {
		s.StepMs = defaultStepMs
	}
	return s
}

// Settings returns the settings applied to new sessions.
func (m *Manager) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// UpdateSettings replaces the settings for sessions opened from now on. The
// shared noise floor keeps its adapted value unless sharing is switched on
// for the first time.
func (m *Manager) UpdateSettings(s Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = withDefaults(s)
	if m.settings.SharedNoiseFloor && m.sharedFloor == nil {
		m.sharedFloor = energy.NewNoiseFloor(m.settings.NoiseFloor)
	}
	m.log.Info("session settings updated", "mode", m.settings.Mode)
}

// Open starts a new session. The session's transcriptions run under ctx;
// cancelling it aborts in-flight work but does not close the session.
func (m *Manager) Open(ctx context.Context, opts Options) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return nil, fmt.Errorf("%w (limit %d)", ErrTooManySessions, m.maxSessions)
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, ok := m.sessions[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	st := m.settings
	if opts.Mode != "" {
		st.Mode = opts.Mode
	}
	cfg := st.Segment
	if opts.Language != "" {
		cfg.Language = opts.Language
		if cfg.Language == "auto" {
			cfg.Language = ""
		}
	}
	ctx = observe.WithSessionID(ctx, id)
	log := observe.Logger(ctx)

	now := m.now
	var clock *audioClock
	if opts.AudioClock {
		clock = &audioClock{start: m.now()}
		now = clock.now
	}
	seg, eff, err := m.newIngester(st, cfg, now, log)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", id, err)
	}
	if clock != nil {
		clock.rate.Store(int64(eff.SampleRate))
	}

	s := &Session{
		id:          id,
		seg:         seg,
		store:       m.store,
		metrics:     m.metrics,
		log:         log,
		clock:       clock,
		sampleRate:  eff.SampleRate,
		language:    eff.Language,
		minWindowMs: st.MinSilenceWindowMs,
		maxSilence:  st.MaxSilenceMs,
		ctx:         ctx,
		queue:       make(chan Chunk, st.QueueSize),
		results:     make(chan Event, st.QueueSize),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
	}
	if opts.MinSilenceWindowMs > 0 {
		s.minWindowMs = opts.MinSilenceWindowMs
	}
	if opts.MaxSilenceMs > 0 {
		s.maxSilence = opts.MaxSilenceMs
	}
	if st.Mode == ModeStep {
		s.stepSamples = max(audio.SamplesForMs(st.StepMs, eff.SampleRate), 1)
	}
	s.onClose = func() { m.remove(id) }

	m.sessions[id] = s
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, 1)
	}
	go s.run()

	log.Info("session opened", "mode", st.Mode, "sample_rate", eff.SampleRate, "language", eff.Language)
	return s, nil
}

// newIngester builds the segmenter for one session and returns it together
// with its effective configuration.
func (m *Manager) newIngester(st Settings, cfg segment.Config, now func() time.Time, log *slog.Logger) (segment.Ingester, segment.Config, error) {
	opts := []segment.Option{segment.WithLogger(log), segment.WithClock(now)}
	if st.Mode == ModeStep {
		sp, err := segment.NewStepper(cfg, m.tr, opts...)
		if err != nil {
			return nil, segment.Config{}, err
		}
		return sp, sp.Config(), nil
	}
	floor := m.sharedFloor
	if !st.SharedNoiseFloor || floor == nil {
		floor = energy.NewNoiseFloor(st.NoiseFloor)
	}
	opts = append(opts, segment.WithNoiseFloor(floor))
	sg, err := segment.New(cfg, m.tr, opts...)
	if err != nil {
		return nil, segment.Config{}, err
	}
	return sg, sg.Config(), nil
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok && m.metrics != nil {
		m.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// Get returns the open session with the given ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Active returns the number of open sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close closes every open session and rejects further Open calls. Callers
// must still drain the Results of sessions they hold.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range open {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.id, err))
		}
	}
	return errors.Join(errs...)
}
