// Package tensor describes non-owning, shape-typed views over simulation
// buffers. A view never owns memory: it is valid only while the backend that
// produced it is alive and no step is in flight.
package tensor

import (
	"fmt"
	"strings"

	"github.com/san-kum/batchsim/internal/device"
)

type ElementType int

const (
	UInt8 ElementType = iota
	Int8
	Int16
	Int32
	Int64
	Float16
	Float32
)

var elementNames = [...]string{
	UInt8:   "uint8",
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	Float16: "float16",
	Float32: "float32",
}

var elementSizes = [...]int{
	UInt8:   1,
	Int8:    1,
	Int16:   2,
	Int32:   4,
	Int64:   8,
	Float16: 2,
	Float32: 4,
}

// Size returns the element width in bytes, 0 for unknown types.
func (t ElementType) Size() int {
	if t < 0 || int(t) >= len(elementSizes) {
		return 0
	}
	return elementSizes[t]
}

func (t ElementType) String() string {
	if t < 0 || int(t) >= len(elementNames) {
		return fmt.Sprintf("ElementType(%d)", int(t))
	}
	return elementNames[t]
}

// Location says which memory space a view's address belongs to.
type Location struct {
	device bool
	id     int
}

func Host() Location { return Location{} }

func Device(id int) Location { return Location{device: true, id: id} }

func (l Location) IsDevice() bool { return l.device }

// DeviceID returns the device ordinal and true for device locations.
func (l Location) DeviceID() (int, bool) { return l.id, l.device }

func (l Location) String() string {
	if l.device {
		return fmt.Sprintf("device(%d)", l.id)
	}
	return "host"
}

type Tensor struct {
	Addr     device.Address
	Type     ElementType
	Shape    []int64
	Location Location
}

// New builds a view; the shape is copied so callers may reuse theirs.
func New(addr device.Address, typ ElementType, loc Location, shape ...int64) Tensor {
	dims := make([]int64, len(shape))
	copy(dims, shape)
	return Tensor{Addr: addr, Type: typ, Shape: dims, Location: loc}
}

// IsNull reports whether the view has no backing memory.
func (t Tensor) IsNull() bool { return t.Addr.IsNull() }

func (t Tensor) NumElements() int64 {
	if len(t.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

func (t Tensor) SizeBytes() int64 {
	return t.NumElements() * int64(t.Type.Size())
}

func (t Tensor) String() string {
	dims := make([]string, len(t.Shape))
	for i, d := range t.Shape {
		dims[i] = fmt.Sprint(d)
	}
	return fmt.Sprintf("%s[%s]@%s %s", t.Type, strings.Join(dims, ","), t.Location, t.Addr)
}
