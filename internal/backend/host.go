package backend

import (
	"context"

	"github.com/san-kum/batchsim/internal/device"
	"github.com/san-kum/batchsim/internal/tensor"
)

// HostBackend has no simulation. It exists so host mode can be selected and
// produce correctly shaped, null-addressed views.
type HostBackend struct {
	params InitParams
	ticks  uint64
}

var _ Backend = (*HostBackend)(nil)

func NewHostBackend() *HostBackend { return &HostBackend{} }

func (b *HostBackend) Name() string { return "host" }

func (b *HostBackend) Init(ctx context.Context, p InitParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.params = p
	return nil
}

func (b *HostBackend) Step() { b.ticks++ }

func (b *HostBackend) ExportedBuffer(slot int) (device.Address, error) {
	if err := checkSlot(slot); err != nil {
		return device.Null, err
	}
	return device.Null, nil
}

func (b *HostBackend) DepthView() device.Address { return device.Null }

func (b *HostBackend) ColorView() device.Address { return device.Null }

func (b *HostBackend) Location() tensor.Location { return tensor.Host() }

func (b *HostBackend) Ticks() uint64 { return b.ticks }

func (b *HostBackend) Close() error { return nil }
