package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/san-kum/batchsim/internal/assets"
	"github.com/san-kum/batchsim/internal/device"
	"github.com/san-kum/batchsim/internal/tensor"
)

// DeviceBackend runs the compiled step graph on a device runtime.
type DeviceBackend struct {
	rt       device.Runtime
	exec     device.Executor
	loader   *assets.PhysicsLoader
	episode  device.Address
	inits    []WorldInit
	deviceID int
	ticks    uint64
}

var _ Backend = (*DeviceBackend)(nil)

func NewDeviceBackend(rt device.Runtime) *DeviceBackend {
	return &DeviceBackend{rt: rt}
}

func (b *DeviceBackend) Name() string { return "device/" + b.rt.Name() }

// Init stages the physics catalog, allocates the shared episode record,
// compiles the step graph and uploads render geometry. Whatever was
// allocated before a failing stage is released.
func (b *DeviceBackend) Init(ctx context.Context, p InitParams) (err error) {
	if b.exec != nil {
		return fmt.Errorf("backend: device backend already initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			b.release()
		}
	}()

	b.loader = assets.NewPhysicsLoader(assets.StorageDevice, assets.DefaultLoaderCapacity)
	if _, err := b.loader.LoadCatalog(p.Catalog.Physics); err != nil {
		return fmt.Errorf("%w: staging physics objects: %w", ErrDeviceAllocation, err)
	}

	b.episode, err = b.rt.Alloc(EpisodeStateBytes)
	if err != nil {
		return fmt.Errorf("%w: episode state: %w", ErrDeviceAllocation, err)
	}
	if err := b.rt.Memset(b.episode, 0, EpisodeStateBytes); err != nil {
		return fmt.Errorf("%w: zeroing episode state: %w", ErrDeviceAllocation, err)
	}

	b.inits = make([]WorldInit, p.NumWorlds)
	for i := range b.inits {
		b.inits[i] = WorldInit{Episode: b.episode}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	opt := device.OptLTO
	if p.DebugCompile {
		opt = device.OptDebug
	}
	exec, err := b.rt.Compile(device.ExecConfig{
		WorldInit:          encodeWorldInits(b.inits),
		WorldInitBytes:     WorldInitBytes,
		WorldDataBytes:     worldDataBytes,
		WorldDataAlignment: worldDataAlignment,
		NumWorlds:          p.NumWorlds,
		NumExportedBuffers: NumExportedBuffers,
		DeviceID:           p.DeviceID,
		RenderWidth:        p.RenderWidth,
		RenderHeight:       p.RenderHeight,
	}, device.CompileConfig{
		Entry:    stepEntry,
		Sources:  p.Sources,
		Flags:    p.Flags,
		OptMode:  opt,
		Executor: device.ExecutorTaskGraph,
	})
	if err != nil {
		if errors.Is(err, device.ErrOutOfMemory) {
			return fmt.Errorf("%w: %w", ErrDeviceAllocation, err)
		}
		return fmt.Errorf("%w: %w", ErrCompilation, err)
	}
	b.exec = exec

	objs, err := sourceObjects(p.Catalog.Render)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCompilation, err)
	}
	if err := b.exec.LoadObjects(objs); err != nil {
		return fmt.Errorf("%w: loading render objects: %w", ErrCompilation, err)
	}

	b.deviceID = p.DeviceID
	return nil
}

func sourceObjects(rc assets.RenderCatalog) ([]device.SourceObject, error) {
	objs := make([]device.SourceObject, 0, len(rc))
	for _, kind := range assets.Kinds {
		obj := rc[kind]
		if obj == nil {
			return nil, fmt.Errorf("render catalog has no %s", kind)
		}
		src := device.SourceObject{Meshes: make([]device.SourceMesh, len(obj.Meshes))}
		for i, m := range obj.Meshes {
			src.Meshes[i] = device.SourceMesh{
				Positions: vec3s(m.Positions),
				Normals:   vec3s(m.Normals),
				UVs:       m.UVs,
				Indices:   m.Indices,
			}
		}
		objs = append(objs, src)
	}
	return objs, nil
}

func vec3s(in []assets.Vec3) [][3]float32 {
	out := make([][3]float32, len(in))
	for i, v := range in {
		out[i] = [3]float32{v.X, v.Y, v.Z}
	}
	return out
}

func (b *DeviceBackend) Step() {
	if b.exec == nil {
		return
	}
	b.exec.Run()
	b.ticks++
}

func (b *DeviceBackend) ExportedBuffer(slot int) (device.Address, error) {
	if b.exec == nil {
		return device.Null, ErrNotInitialized
	}
	if err := checkSlot(slot); err != nil {
		return device.Null, err
	}
	return b.exec.Exported(slot)
}

func (b *DeviceBackend) DepthView() device.Address {
	if b.exec == nil {
		return device.Null
	}
	return b.exec.DepthObservations()
}

func (b *DeviceBackend) ColorView() device.Address {
	if b.exec == nil {
		return device.Null
	}
	return b.exec.RGBObservations()
}

func (b *DeviceBackend) Location() tensor.Location { return tensor.Device(b.deviceID) }

func (b *DeviceBackend) Ticks() uint64 { return b.ticks }

// EpisodeAddress is the device address of the shared EpisodeState.
func (b *DeviceBackend) EpisodeAddress() device.Address { return b.episode }

func (b *DeviceBackend) WorldInits() []WorldInit {
	return append([]WorldInit(nil), b.inits...)
}

// PhysicsObjects reports how many physics objects were staged.
func (b *DeviceBackend) PhysicsObjects() int {
	if b.loader == nil {
		return 0
	}
	return b.loader.ObjectManager().Len()
}

func (b *DeviceBackend) Close() error {
	return b.release()
}

func (b *DeviceBackend) release() error {
	var errs []error
	if b.exec != nil {
		errs = append(errs, b.exec.Close())
		b.exec = nil
	}
	if !b.episode.IsNull() {
		errs = append(errs, b.rt.Free(b.episode))
		b.episode = device.Null
	}
	return errors.Join(errs...)
}
