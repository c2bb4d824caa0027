package backend

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"github.com/san-kum/batchsim/internal/assets"
	"github.com/san-kum/batchsim/internal/config"
	"github.com/san-kum/batchsim/internal/device"
	"github.com/san-kum/batchsim/internal/tensor"
)

var (
	ErrUnsupportedBackend = errors.New("backend: unsupported execution backend")
	ErrDeviceAllocation   = errors.New("backend: device allocation failed")
	ErrCompilation        = errors.New("backend: compilation failed")
	ErrNotInitialized     = errors.New("backend: not initialized")
)

// Exported buffer slots.
const (
	SlotReset  = device.SlotReset
	SlotAction = device.SlotAction

	NumExportedBuffers = 2
)

const stepEntry = "batchsim::StepGraph"

// EpisodeState is the one record all worlds share. Its layout matches what
// the compiled step graph reads and writes.
type EpisodeState struct {
	CurEpisode   uint32
	ResetPending uint32
}

const EpisodeStateBytes = int(unsafe.Sizeof(EpisodeState{}))

func (s EpisodeState) MarshalBinary() ([]byte, error) {
	buf := make([]byte, EpisodeStateBytes)
	binary.LittleEndian.PutUint32(buf[0:], s.CurEpisode)
	binary.LittleEndian.PutUint32(buf[4:], s.ResetPending)
	return buf, nil
}

func (s *EpisodeState) UnmarshalBinary(data []byte) error {
	if len(data) < EpisodeStateBytes {
		return fmt.Errorf("backend: episode state needs %d bytes, got %d", EpisodeStateBytes, len(data))
	}
	s.CurEpisode = binary.LittleEndian.Uint32(data[0:])
	s.ResetPending = binary.LittleEndian.Uint32(data[4:])
	return nil
}

// WorldInit is the per-world construction record. Every world holds the
// address of the same EpisodeState.
type WorldInit struct {
	Episode device.Address
}

const WorldInitBytes = 8

func encodeWorldInits(inits []WorldInit) []byte {
	buf := make([]byte, len(inits)*WorldInitBytes)
	for i, wi := range inits {
		binary.LittleEndian.PutUint64(buf[i*WorldInitBytes:], uint64(wi.Episode))
	}
	return buf
}

// WorldData is the per-world state the step graph owns.
type WorldData struct {
	Steps   uint32
	Episode uint32
}

var (
	worldDataBytes     = int(unsafe.Sizeof(WorldData{}))
	worldDataAlignment = int(unsafe.Alignof(WorldData{}))
)

type InitParams struct {
	NumWorlds    int
	DeviceID     int
	RenderWidth  int
	RenderHeight int
	DebugCompile bool
	Sources      []string
	Flags        []string
	Catalog      assets.Catalog
}

// Backend is the execution strategy a Manager drives. Addresses returned
// after Init stay valid until Close.
type Backend interface {
	Name() string
	Init(ctx context.Context, p InitParams) error
	Step()
	ExportedBuffer(slot int) (device.Address, error)
	DepthView() device.Address
	ColorView() device.Address
	Location() tensor.Location
	Ticks() uint64
	Close() error
}

// New picks the backend for mode. Device mode needs a runtime.
func New(mode config.ExecMode, rt device.Runtime) (Backend, error) {
	switch mode {
	case config.ExecModeHost:
		return NewHostBackend(), nil
	case config.ExecModeDevice:
		if rt == nil {
			return nil, fmt.Errorf("%w: device mode without a device runtime", ErrUnsupportedBackend)
		}
		return NewDeviceBackend(rt), nil
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrUnsupportedBackend, mode)
	}
}

func checkSlot(slot int) error {
	if slot < 0 || slot >= NumExportedBuffers {
		return fmt.Errorf("%w: slot %d of %d", device.ErrSlotRange, slot, NumExportedBuffers)
	}
	return nil
}
