package device

import (
	"encoding/binary"
	"fmt"
	"math"
	"runtime"
	"sync"
)

// Exported buffer slots understood by the emulated task graph.
const (
	SlotReset  = 0
	SlotAction = 1
)

// Layout of the shared episode record as the emulated task graph sees it.
const (
	episodeCurOffset   = 0
	episodeResetOffset = 4
	episodeRecordBytes = 8

	worldStepOffset    = 0
	worldEpisodeOffset = 4
	minWorldDataBytes  = 8

	minWorldChunk = 4
)

var le = binary.LittleEndian

type EmulatorOption func(*Emulator)

// WithMemoryLimit caps the bytes the emulator will hand out.
func WithMemoryLimit(bytes int) EmulatorOption {
	return func(e *Emulator) { e.mem.limit = bytes }
}

// Emulator implements Runtime in host memory.
type Emulator struct {
	mem     *arena
	workers int
}

var _ Runtime = (*Emulator)(nil)

func NewEmulator(workers int, opts ...EmulatorOption) *Emulator {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	e := &Emulator{
		mem:     newArena(0),
		workers: workers,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Emulator) Name() string { return fmt.Sprintf("emulator (%d workers)", e.workers) }

func (e *Emulator) Alloc(size int) (Address, error) { return e.mem.alloc(size) }

func (e *Emulator) Free(addr Address) error { return e.mem.free(addr) }

func (e *Emulator) Memset(addr Address, value byte, size int) error {
	buf, err := e.mem.slice(addr, size)
	if err != nil {
		return err
	}
	for i := range buf {
		buf[i] = value
	}
	return nil
}

// Read copies n bytes starting at addr.
func (e *Emulator) Read(addr Address, n int) ([]byte, error) {
	buf, err := e.mem.slice(addr, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, buf)
	return out, nil
}

// Write copies data to addr.
func (e *Emulator) Write(addr Address, data []byte) error {
	buf, err := e.mem.slice(addr, len(data))
	if err != nil {
		return err
	}
	copy(buf, data)
	return nil
}

// InUse reports the number of allocated bytes.
func (e *Emulator) InUse() int { return e.mem.inUse() }

func (e *Emulator) Compile(cfg ExecConfig, comp CompileConfig) (Executor, error) {
	if err := validateExecConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.WorldInitBytes < 8 {
		return nil, fmt.Errorf("%w: world init record of %d bytes cannot hold an episode address", ErrCompile, cfg.WorldInitBytes)
	}
	if cfg.WorldDataBytes < minWorldDataBytes {
		return nil, fmt.Errorf("%w: world data of %d bytes, need at least %d", ErrCompile, cfg.WorldDataBytes, minWorldDataBytes)
	}

	x := &emuExecutor{
		rt:       e,
		cfg:      cfg,
		comp:     comp,
		stride:   alignUp(cfg.WorldDataBytes, cfg.WorldDataAlignment),
		episodes: make([][]byte, cfg.NumWorlds),
	}

	for i := 0; i < cfg.NumWorlds; i++ {
		rec := cfg.WorldInit[i*cfg.WorldInitBytes:]
		addr := Address(le.Uint64(rec))
		ep, err := e.mem.slice(addr, episodeRecordBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: world %d episode record: %v", ErrCompile, i, err)
		}
		x.episodes[i] = ep
	}

	if err := x.allocate(); err != nil {
		x.release()
		return nil, err
	}
	return x, nil
}

type emuExecutor struct {
	rt     *Emulator
	cfg    ExecConfig
	comp   CompileConfig
	stride int

	episodes [][]byte
	epMu     sync.Mutex

	worldData Address
	exported  []Address
	depth     Address
	rgb       Address
	owned     []Address

	objects []SourceObject
	closed  bool
}

func (x *emuExecutor) alloc(size int) (Address, error) {
	addr, err := x.rt.mem.alloc(size)
	if err != nil {
		return Null, err
	}
	x.owned = append(x.owned, addr)
	return addr, nil
}

func (x *emuExecutor) allocate() error {
	var err error
	n := x.cfg.NumWorlds
	pixels := n * x.cfg.RenderWidth * x.cfg.RenderHeight

	if x.worldData, err = x.alloc(n * x.stride); err != nil {
		return err
	}
	x.exported = make([]Address, x.cfg.NumExportedBuffers)
	for slot := range x.exported {
		if x.exported[slot], err = x.alloc(4 * n); err != nil {
			return err
		}
	}
	if x.depth, err = x.alloc(4 * pixels); err != nil {
		return err
	}
	if x.rgb, err = x.alloc(4 * pixels); err != nil {
		return err
	}
	return nil
}

func (x *emuExecutor) release() {
	for _, addr := range x.owned {
		_ = x.rt.mem.free(addr)
	}
	x.owned = nil
}

func (x *emuExecutor) LoadObjects(objs []SourceObject) error {
	if len(objs) == 0 {
		return fmt.Errorf("%w: no render objects", ErrCompile)
	}
	for i, obj := range objs {
		if len(obj.Meshes) == 0 {
			return fmt.Errorf("%w: render object %d has no meshes", ErrCompile, i)
		}
		for j, m := range obj.Meshes {
			if len(m.Indices)%3 != 0 {
				return fmt.Errorf("%w: object %d mesh %d index count %d is not a triangle list", ErrCompile, i, j, len(m.Indices))
			}
			for _, idx := range m.Indices {
				if int(idx) >= len(m.Positions) {
					return fmt.Errorf("%w: object %d mesh %d index %d out of range", ErrCompile, i, j, idx)
				}
			}
		}
	}
	x.objects = objs
	return nil
}

func (x *emuExecutor) Exported(slot int) (Address, error) {
	if slot < 0 || slot >= len(x.exported) {
		return Null, fmt.Errorf("%w: slot %d of %d", ErrSlotRange, slot, len(x.exported))
	}
	return x.exported[slot], nil
}

func (x *emuExecutor) DepthObservations() Address { return x.depth }

func (x *emuExecutor) RGBObservations() Address { return x.rgb }

func (x *emuExecutor) Close() error {
	if x.closed {
		return nil
	}
	x.closed = true
	x.release()
	return nil
}

func (x *emuExecutor) mustSlice(addr Address, n int) []byte {
	buf, err := x.rt.mem.slice(addr, n)
	if err != nil {
		panic(fmt.Sprintf("device: emulator lost its own buffer: %v", err))
	}
	return buf
}

// Run advances every world one tick.
func (x *emuExecutor) Run() {
	if x.closed {
		return
	}

	n := x.cfg.NumWorlds
	w, h := x.cfg.RenderWidth, x.cfg.RenderHeight
	pixels := w * h

	worlds := x.mustSlice(x.worldData, n*x.stride)
	var resets, actions []byte
	if len(x.exported) > SlotReset {
		resets = x.mustSlice(x.exported[SlotReset], 4*n)
	}
	if len(x.exported) > SlotAction {
		actions = x.mustSlice(x.exported[SlotAction], 4*n)
	}
	depth := x.mustSlice(x.depth, 4*n*pixels)
	rgb := x.mustSlice(x.rgb, 4*n*pixels)

	x.epMu.Lock()
	for _, ep := range x.episodes {
		le.PutUint32(ep[episodeResetOffset:], 0)
	}
	x.epMu.Unlock()

	parallelFor(n, x.rt.workers, minWorldChunk, func(start, end int) {
		for i := start; i < end; i++ {
			wd := worlds[i*x.stride : i*x.stride+minWorldDataBytes]

			if resets != nil && int32(le.Uint32(resets[4*i:])) != 0 {
				le.PutUint32(wd[worldEpisodeOffset:], x.startEpisode(i))
				le.PutUint32(wd[worldStepOffset:], 0)
				le.PutUint32(resets[4*i:], 0)
			}

			step := le.Uint32(wd[worldStepOffset:]) + 1
			le.PutUint32(wd[worldStepOffset:], step)

			var action int32
			if actions != nil {
				action = int32(le.Uint32(actions[4*i:]))
			}

			x.render(depth[4*i*pixels:4*(i+1)*pixels], rgb[4*i*pixels:4*(i+1)*pixels],
				step, le.Uint32(wd[worldEpisodeOffset:]), action)
		}
	})
}

func (x *emuExecutor) startEpisode(world int) uint32 {
	x.epMu.Lock()
	defer x.epMu.Unlock()

	ep := x.episodes[world]
	cur := le.Uint32(ep[episodeCurOffset:]) + 1
	le.PutUint32(ep[episodeCurOffset:], cur)
	le.PutUint32(ep[episodeResetOffset:], le.Uint32(ep[episodeResetOffset:])+1)
	return cur
}

// render fills one world's views with a ground plane receding towards the
// top row; the action shifts the plane and the tick drives the color.
func (x *emuExecutor) render(depth, rgb []byte, step, episode uint32, action int32) {
	w, h := x.cfg.RenderWidth, x.cfg.RenderHeight
	for row := 0; row < h; row++ {
		d := 1 + float32(h-row)/float32(h) + 0.1*float32(action)
		bits := math.Float32bits(d)
		for col := 0; col < w; col++ {
			p := row*w + col
			le.PutUint32(depth[4*p:], bits)
			rgb[4*p] = byte(step)
			rgb[4*p+1] = byte(episode)
			rgb[4*p+2] = byte(action)
			rgb[4*p+3] = 0xff
		}
	}
}
