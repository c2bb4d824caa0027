package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/san-kum/batchsim/internal/assets"
	"github.com/san-kum/batchsim/internal/backend"
	"github.com/san-kum/batchsim/internal/config"
	"github.com/san-kum/batchsim/internal/device"
	"github.com/san-kum/batchsim/internal/tensor"
)

type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateStepping
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateStepping:
		return "stepping"
	case StateDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// Observer is notified after every completed step.
type Observer interface {
	OnStep(tick uint64, elapsed time.Duration)
}

type ObserverFunc func(tick uint64, elapsed time.Duration)

func (f ObserverFunc) OnStep(tick uint64, elapsed time.Duration) { f(tick, elapsed) }

type Option func(*Manager)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithRuntime supplies the device runtime used in device mode instead of
// the one chosen from the config.
func WithRuntime(rt device.Runtime) Option {
	return func(m *Manager) { m.rt = rt }
}

func WithImporter(imp assets.Importer) Option {
	return func(m *Manager) { m.importer = imp }
}

func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// Manager owns a batch of worlds and the backend that steps them. It is not
// safe for concurrent use.
type Manager struct {
	id        string
	cfg       *config.Config
	log       zerolog.Logger
	rt        device.Runtime
	importer  assets.Importer
	observers []Observer

	catalog assets.Catalog
	be      backend.Backend
	state   State
}

// New validates cfg, loads the asset catalog and initializes the backend
// for cfg.ExecMode. On failure it returns a nil Manager and an *InitError,
// and anything allocated on the way has been released.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Manager, error) {
	m := &Manager{
		id:       ulid.Make().String(),
		log:      zerolog.Nop(),
		importer: assets.OBJImporter{},
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.init(ctx, cfg); err != nil {
		ie := newInitError(err)
		initFailures.WithLabelValues(ie.Kind.String()).Inc()
		m.log.Error().Err(err).Str("kind", ie.Kind.String()).Msg("manager init failed")
		return nil, ie
	}
	return m, nil
}

func (m *Manager) init(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", config.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.cfg = cfg.Clone()
	m.log = m.log.With().Str("manager", m.id).Logger()

	rt, err := m.selectRuntime()
	if err != nil {
		return err
	}
	be, err := backend.New(m.cfg.ExecMode, rt)
	if err != nil {
		return err
	}
	m.log.Debug().Str("backend", be.Name()).Msg("backend selected")

	m.catalog, err = assets.Load(m.importer, m.cfg.DataDir)
	if err != nil {
		return err
	}
	m.log.Debug().Str("data_dir", m.cfg.DataDir).Int("objects", assets.NumObjects).Msg("assets loaded")

	err = be.Init(ctx, backend.InitParams{
		NumWorlds:    m.cfg.NumWorlds,
		DeviceID:     m.cfg.DeviceID,
		RenderWidth:  m.cfg.RenderWidth,
		RenderHeight: m.cfg.RenderHeight,
		DebugCompile: m.cfg.DebugCompile,
		Sources:      m.cfg.Sources,
		Flags:        m.cfg.CompileFlags,
		Catalog:      m.catalog,
	})
	if err != nil {
		return err
	}

	m.be = be
	m.rt = rt
	m.state = StateInitialized
	activeWorlds.Add(float64(m.cfg.NumWorlds))

	m.log.Info().
		Str("mode", string(m.cfg.ExecMode)).
		Str("backend", be.Name()).
		Int("worlds", m.cfg.NumWorlds).
		Str("location", be.Location().String()).
		Msg("manager initialized")
	return nil
}

func (m *Manager) selectRuntime() (device.Runtime, error) {
	if m.cfg.ExecMode != config.ExecModeDevice {
		return nil, nil
	}
	if m.rt != nil {
		return m.rt, nil
	}
	if m.cfg.Emulate {
		return device.NewEmulator(m.cfg.Workers), nil
	}
	rt, err := device.NewCUDARuntime()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", backend.ErrUnsupportedBackend, err)
	}
	return rt, nil
}

// Step advances every world exactly one tick and returns once all of them
// have.
func (m *Manager) Step() error {
	if m.state == StateDestroyed {
		return ErrClosed
	}

	start := time.Now()
	m.be.Step()
	elapsed := time.Since(start)

	m.state = StateStepping
	stepDuration.Observe(elapsed.Seconds())
	stepsTotal.WithLabelValues(string(m.cfg.ExecMode)).Inc()

	tick := m.be.Ticks()
	for _, o := range m.observers {
		o.OnStep(tick, elapsed)
	}
	return nil
}

func (m *Manager) ResetTensor() (tensor.Tensor, error) {
	return m.exported(backend.SlotReset)
}

func (m *Manager) ActionTensor() (tensor.Tensor, error) {
	return m.exported(backend.SlotAction)
}

func (m *Manager) exported(slot int) (tensor.Tensor, error) {
	if m.state == StateDestroyed {
		return tensor.Tensor{}, ErrClosed
	}
	addr, err := m.be.ExportedBuffer(slot)
	if err != nil {
		return tensor.Tensor{}, err
	}
	return tensor.New(addr, tensor.Int32, m.be.Location(), int64(m.cfg.NumWorlds), 1), nil
}

func (m *Manager) DepthTensor() (tensor.Tensor, error) {
	if m.state == StateDestroyed {
		return tensor.Tensor{}, ErrClosed
	}
	return tensor.New(m.be.DepthView(), tensor.Float32, m.be.Location(),
		int64(m.cfg.NumWorlds), int64(m.cfg.RenderHeight), int64(m.cfg.RenderWidth), 1), nil
}

func (m *Manager) RGBTensor() (tensor.Tensor, error) {
	if m.state == StateDestroyed {
		return tensor.Tensor{}, ErrClosed
	}
	return tensor.New(m.be.ColorView(), tensor.UInt8, m.be.Location(),
		int64(m.cfg.NumWorlds), int64(m.cfg.RenderHeight), int64(m.cfg.RenderWidth), 4), nil
}

func (m *Manager) Ticks() uint64 {
	if m.be == nil {
		return 0
	}
	return m.be.Ticks()
}

func (m *Manager) ID() string { return m.id }

// Config returns a copy of the effective configuration.
func (m *Manager) Config() *config.Config { return m.cfg.Clone() }

func (m *Manager) State() State { return m.state }

func (m *Manager) Catalog() assets.Catalog { return m.catalog }

func (m *Manager) BackendName() string { return m.be.Name() }

// Runtime is the device runtime in use, or nil in host mode.
func (m *Manager) Runtime() device.Runtime { return m.rt }

// Close releases the backend. Calling it again is a no-op.
func (m *Manager) Close() error {
	if m.state == StateDestroyed {
		return nil
	}
	m.state = StateDestroyed
	activeWorlds.Sub(float64(m.cfg.NumWorlds))

	err := m.be.Close()
	m.log.Info().Uint64("ticks", m.be.Ticks()).Msg("manager closed")
	return err
}
