package viz

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/san-kum/batchsim/internal/device"
	"github.com/san-kum/batchsim/internal/manager"
)

// Source is what the live view steps and draws.
type Source interface {
	Step() error
	Ticks() uint64
	NumWorlds() int
	Label() string
	// Depth returns one world's depth image, or ok=false when it cannot be
	// read back to the host.
	Depth(world int) (depth []float32, w, h int, ok bool)
}

// hostReader is implemented by runtimes whose memory the host can read.
type hostReader interface {
	Read(addr device.Address, n int) ([]byte, error)
}

type managerSource struct {
	m *manager.Manager
}

func NewManagerSource(m *manager.Manager) Source {
	return managerSource{m: m}
}

func (s managerSource) Step() error { return s.m.Step() }

func (s managerSource) Ticks() uint64 { return s.m.Ticks() }

func (s managerSource) NumWorlds() int { return s.m.Config().NumWorlds }

func (s managerSource) Label() string {
	cfg := s.m.Config()
	return fmt.Sprintf("%s %dx%d", s.m.BackendName(), cfg.RenderWidth, cfg.RenderHeight)
}

func (s managerSource) Depth(world int) ([]float32, int, int, bool) {
	r, ok := s.m.Runtime().(hostReader)
	if !ok {
		return nil, 0, 0, false
	}
	t, err := s.m.DepthTensor()
	if err != nil || t.IsNull() || len(t.Shape) != 4 {
		return nil, 0, 0, false
	}
	h, w := int(t.Shape[1]), int(t.Shape[2])
	if world < 0 || world >= int(t.Shape[0]) {
		return nil, 0, 0, false
	}

	stride := w * h * t.Type.Size()
	raw, err := r.Read(t.Addr+device.Address(world*stride), stride)
	if err != nil {
		return nil, 0, 0, false
	}
	return DecodeFloat32(raw), w, h, true
}

// DecodeFloat32 reads little-endian float32 values.
func DecodeFloat32(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out
}
