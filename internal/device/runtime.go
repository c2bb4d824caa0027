package device

import (
	"errors"
	"fmt"
)

var (
	ErrNotAvailable   = errors.New("device: runtime not available")
	ErrOutOfMemory    = errors.New("device: allocation failed")
	ErrInvalidAddress = errors.New("device: invalid address")
	ErrCompile        = errors.New("device: task graph compilation failed")
	ErrSlotRange      = errors.New("device: exported buffer slot out of range")
)

// Address is an opaque location in a runtime's memory space.
type Address uintptr

const Null Address = 0

func (a Address) IsNull() bool { return a == Null }

func (a Address) String() string { return fmt.Sprintf("0x%x", uintptr(a)) }

type OptMode int

const (
	OptDebug OptMode = iota
	OptLTO
)

func (m OptMode) String() string {
	if m == OptDebug {
		return "debug"
	}
	return "lto"
}

type ExecutorKind int

const (
	ExecutorTaskGraph ExecutorKind = iota
	ExecutorMegakernel
)

// ExecConfig describes the world layout handed to the executor.
// WorldInit holds NumWorlds records of WorldInitBytes each.
type ExecConfig struct {
	WorldInit          []byte
	WorldInitBytes     int
	WorldDataBytes     int
	WorldDataAlignment int
	NumWorlds          int
	NumExportedBuffers int
	DeviceID           int
	RenderWidth        int
	RenderHeight       int
}

type CompileConfig struct {
	Entry    string
	Sources  []string
	Flags    []string
	OptMode  OptMode
	Executor ExecutorKind
}

type SourceMesh struct {
	Positions [][3]float32
	Normals   [][3]float32
	UVs       [][2]float32
	Indices   []uint32
}

type SourceObject struct {
	Meshes []SourceMesh
}

// Runtime owns a device memory space and compiles executors into it.
type Runtime interface {
	Name() string
	Alloc(size int) (Address, error)
	Memset(addr Address, value byte, size int) error
	Free(addr Address) error
	Compile(exec ExecConfig, comp CompileConfig) (Executor, error)
}

// Executor runs a compiled task graph across all worlds. Run returns once
// every world has advanced exactly one tick.
type Executor interface {
	LoadObjects(objs []SourceObject) error
	Run()
	Exported(slot int) (Address, error)
	DepthObservations() Address
	RGBObservations() Address
	Close() error
}

func validateExecConfig(cfg ExecConfig) error {
	switch {
	case cfg.NumWorlds < 1:
		return fmt.Errorf("%w: num worlds must be positive, got %d", ErrCompile, cfg.NumWorlds)
	case cfg.WorldInitBytes <= 0:
		return fmt.Errorf("%w: world init size must be positive", ErrCompile)
	case len(cfg.WorldInit) != cfg.NumWorlds*cfg.WorldInitBytes:
		return fmt.Errorf("%w: world init has %d bytes, want %d", ErrCompile, len(cfg.WorldInit), cfg.NumWorlds*cfg.WorldInitBytes)
	case cfg.WorldDataBytes <= 0:
		return fmt.Errorf("%w: world data size must be positive", ErrCompile)
	case cfg.WorldDataAlignment <= 0 || cfg.WorldDataAlignment&(cfg.WorldDataAlignment-1) != 0:
		return fmt.Errorf("%w: world data alignment %d is not a power of two", ErrCompile, cfg.WorldDataAlignment)
	case cfg.NumExportedBuffers < 0:
		return fmt.Errorf("%w: negative exported buffer count", ErrCompile)
	case cfg.DeviceID < 0:
		return fmt.Errorf("%w: negative device id %d", ErrCompile, cfg.DeviceID)
	case cfg.RenderWidth <= 0 || cfg.RenderHeight <= 0:
		return fmt.Errorf("%w: render resolution %dx%d", ErrCompile, cfg.RenderWidth, cfg.RenderHeight)
	}
	return nil
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
