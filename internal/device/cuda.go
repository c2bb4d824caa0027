//go:build cuda

package device

/*
#cgo CFLAGS: -I/opt/cuda/include
#cgo LDFLAGS: -L/opt/cuda/lib64 -L${SRCDIR} -lcudart -lbatchsim_mwgpu -lstdc++
#include <stdlib.h>
#include <stdint.h>

typedef struct {
	const void *world_init;
	uint32_t world_init_bytes;
	uint32_t world_data_bytes;
	uint32_t world_data_alignment;
	uint32_t num_worlds;
	uint32_t num_exported_buffers;
	uint32_t gpu_id;
	uint32_t render_width;
	uint32_t render_height;
} bsim_state_config;

extern int bsim_cuda_device_count();
extern int bsim_cuda_alloc(uint64_t size, uint64_t *out);
extern int bsim_cuda_memset(uint64_t ptr, int value, uint64_t size);
extern int bsim_cuda_free(uint64_t ptr);

extern void *bsim_mwgpu_create(const bsim_state_config *cfg, const char *entry,
	const char **sources, int num_sources, const char **flags, int num_flags,
	int opt_mode, int executor, char *errbuf, int errlen);
extern int bsim_mwgpu_load_mesh(void *exec, int object, const float *positions,
	uint32_t num_vertices, const uint32_t *indices, uint32_t num_indices);
extern int bsim_mwgpu_finalize_objects(void *exec);
extern void bsim_mwgpu_run(void *exec);
extern uint64_t bsim_mwgpu_exported(void *exec, int slot);
extern uint64_t bsim_mwgpu_depth(void *exec);
extern uint64_t bsim_mwgpu_rgb(void *exec);
extern void bsim_mwgpu_destroy(void *exec);
*/
import "C"

import (
	"fmt"
	"unsafe"
)

const compileErrLen = 4096

type CUDARuntime struct {
	devices int
}

// NewCUDARuntime binds to the CUDA driver. It fails with ErrNotAvailable
// when no device is visible.
func NewCUDARuntime() (Runtime, error) {
	count := int(C.bsim_cuda_device_count())
	if count <= 0 {
		return nil, fmt.Errorf("%w: no cuda devices", ErrNotAvailable)
	}
	return &CUDARuntime{devices: count}, nil
}

func (c *CUDARuntime) Name() string { return fmt.Sprintf("cuda (%d devices)", c.devices) }

func (c *CUDARuntime) Alloc(size int) (Address, error) {
	var out C.uint64_t
	if rc := C.bsim_cuda_alloc(C.uint64_t(size), &out); rc != 0 {
		return Null, fmt.Errorf("%w: cudaMalloc(%d) returned %d", ErrOutOfMemory, size, int(rc))
	}
	return Address(out), nil
}

func (c *CUDARuntime) Memset(addr Address, value byte, size int) error {
	if rc := C.bsim_cuda_memset(C.uint64_t(addr), C.int(value), C.uint64_t(size)); rc != 0 {
		return fmt.Errorf("%w: cudaMemset(%s) returned %d", ErrInvalidAddress, addr, int(rc))
	}
	return nil
}

func (c *CUDARuntime) Free(addr Address) error {
	if rc := C.bsim_cuda_free(C.uint64_t(addr)); rc != 0 {
		return fmt.Errorf("%w: cudaFree(%s) returned %d", ErrInvalidAddress, addr, int(rc))
	}
	return nil
}

func (c *CUDARuntime) Compile(cfg ExecConfig, comp CompileConfig) (Executor, error) {
	if err := validateExecConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.DeviceID >= c.devices {
		return nil, fmt.Errorf("%w: device %d of %d", ErrNotAvailable, cfg.DeviceID, c.devices)
	}

	initBuf := C.CBytes(cfg.WorldInit)
	defer C.free(initBuf)

	state := C.bsim_state_config{
		world_init:           initBuf,
		world_init_bytes:     C.uint32_t(cfg.WorldInitBytes),
		world_data_bytes:     C.uint32_t(cfg.WorldDataBytes),
		world_data_alignment: C.uint32_t(cfg.WorldDataAlignment),
		num_worlds:           C.uint32_t(cfg.NumWorlds),
		num_exported_buffers: C.uint32_t(cfg.NumExportedBuffers),
		gpu_id:               C.uint32_t(cfg.DeviceID),
		render_width:         C.uint32_t(cfg.RenderWidth),
		render_height:        C.uint32_t(cfg.RenderHeight),
	}

	entry := C.CString(comp.Entry)
	defer C.free(unsafe.Pointer(entry))
	sources, freeSources := cStrings(comp.Sources)
	defer freeSources()
	flags, freeFlags := cStrings(comp.Flags)
	defer freeFlags()

	errBuf := (*C.char)(C.malloc(compileErrLen))
	defer C.free(unsafe.Pointer(errBuf))

	handle := C.bsim_mwgpu_create(&state, entry,
		sources, C.int(len(comp.Sources)), flags, C.int(len(comp.Flags)),
		C.int(comp.OptMode), C.int(comp.Executor), errBuf, compileErrLen)
	if handle == nil {
		return nil, fmt.Errorf("%w: %s", ErrCompile, C.GoString(errBuf))
	}

	return &cudaExecutor{handle: handle, numExported: cfg.NumExportedBuffers}, nil
}

type cudaExecutor struct {
	handle      unsafe.Pointer
	numExported int
}

func (x *cudaExecutor) LoadObjects(objs []SourceObject) error {
	for i, obj := range objs {
		for j, m := range obj.Meshes {
			if len(m.Positions) == 0 || len(m.Indices) == 0 {
				return fmt.Errorf("%w: object %d mesh %d is empty", ErrCompile, i, j)
			}
			pos := make([]float32, 0, 3*len(m.Positions))
			for _, p := range m.Positions {
				pos = append(pos, p[0], p[1], p[2])
			}
			rc := C.bsim_mwgpu_load_mesh(x.handle, C.int(i),
				(*C.float)(unsafe.Pointer(&pos[0])), C.uint32_t(len(m.Positions)),
				(*C.uint32_t)(unsafe.Pointer(&m.Indices[0])), C.uint32_t(len(m.Indices)))
			if rc != 0 {
				return fmt.Errorf("%w: load object %d mesh %d returned %d", ErrCompile, i, j, int(rc))
			}
		}
	}
	if rc := C.bsim_mwgpu_finalize_objects(x.handle); rc != 0 {
		return fmt.Errorf("%w: finalize objects returned %d", ErrCompile, int(rc))
	}
	return nil
}

func (x *cudaExecutor) Run() { C.bsim_mwgpu_run(x.handle) }

func (x *cudaExecutor) Exported(slot int) (Address, error) {
	if slot < 0 || slot >= x.numExported {
		return Null, fmt.Errorf("%w: slot %d of %d", ErrSlotRange, slot, x.numExported)
	}
	return Address(C.bsim_mwgpu_exported(x.handle, C.int(slot))), nil
}

func (x *cudaExecutor) DepthObservations() Address { return Address(C.bsim_mwgpu_depth(x.handle)) }

func (x *cudaExecutor) RGBObservations() Address { return Address(C.bsim_mwgpu_rgb(x.handle)) }

func (x *cudaExecutor) Close() error {
	if x.handle != nil {
		C.bsim_mwgpu_destroy(x.handle)
		x.handle = nil
	}
	return nil
}

func cStrings(ss []string) (**C.char, func()) {
	if len(ss) == 0 {
		return nil, func() {}
	}
	arr := (*[1 << 20]*C.char)(C.malloc(C.size_t(len(ss)) * C.size_t(unsafe.Sizeof(uintptr(0)))))[:len(ss):len(ss)]
	for i, s := range ss {
		arr[i] = C.CString(s)
	}
	return &arr[0], func() {
		for _, p := range arr {
			C.free(unsafe.Pointer(p))
		}
		C.free(unsafe.Pointer(&arr[0]))
	}
}
