// Package device binds the batch simulator to a device runtime and its
// task-graph executor.
//
// Two runtimes implement [Runtime]:
//
//   - CUDA: device memory and the compiled task graph live on the GPU.
//     Only available when built with the cuda tag.
//   - Emulator: the same contract in host memory, with worlds stepped on a
//     goroutine worker pool. Used for tests and machines without a GPU.
//
// # Addresses
//
// Memory handed out by a runtime is identified by an opaque [Address]. The
// caller never dereferences it; it is passed back to the runtime or exported
// to a consumer that understands the runtime's memory space.
//
//	rt := device.NewEmulator(0)
//	addr, _ := rt.Alloc(64)
//	_ = rt.Memset(addr, 0, 64)
//
// Build with CUDA support:
//
//	go build -tags cuda ./...
package device
