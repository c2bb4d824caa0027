package device

import (
	"fmt"
	"sync"
)

const (
	arenaBase  Address = 0x10000
	blockAlign         = 256
)

// arena hands out host byte blocks under synthetic addresses. Blocks never
// move, so a slice resolved once stays valid until the block is freed.
type arena struct {
	mu     sync.RWMutex
	next   Address
	used   int
	limit  int
	blocks map[Address][]byte
}

func newArena(limit int) *arena {
	return &arena{
		next:   arenaBase,
		limit:  limit,
		blocks: make(map[Address][]byte),
	}
}

func (a *arena) alloc(size int) (Address, error) {
	if size <= 0 {
		return Null, fmt.Errorf("%w: invalid size %d", ErrOutOfMemory, size)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.limit > 0 && a.used+size > a.limit {
		return Null, fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrOutOfMemory, size, a.used, a.limit)
	}

	addr := a.next
	a.blocks[addr] = make([]byte, size)
	a.next += Address(alignUp(size, blockAlign))
	a.used += size
	return addr, nil
}

func (a *arena) free(addr Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	block, ok := a.blocks[addr]
	if !ok {
		return fmt.Errorf("%w: free of %s", ErrInvalidAddress, addr)
	}
	a.used -= len(block)
	delete(a.blocks, addr)
	return nil
}

// slice resolves [addr, addr+n) to the backing bytes. addr may point inside
// a block.
func (a *arena) slice(addr Address, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length", ErrInvalidAddress)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	for base, block := range a.blocks {
		if addr < base || addr >= base+Address(len(block)) {
			continue
		}
		off := int(addr - base)
		if off+n > len(block) {
			return nil, fmt.Errorf("%w: %s+%d overruns block of %d bytes", ErrInvalidAddress, addr, n, len(block))
		}
		return block[off : off+n], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
}

func (a *arena) inUse() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.used
}
