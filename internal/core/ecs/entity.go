package ecs

import (
	"fmt"
	"strconv"
	"strings"
)

// EntityID encodes a 32-bit index in the lower bits and a 32-bit generation
// in the upper bits. Generation increments on destroy to invalidate stale refs,
// so an ID held past its entity's destruction never resolves to the entity
// that later reuses the slot.
type EntityID uint64

func NewEntityID(index uint32, generation uint32) EntityID {
	return EntityID(uint64(generation)<<32 | uint64(index))
}

func (id EntityID) Index() uint32      { return uint32(id) }
func (id EntityID) Generation() uint32 { return uint32(id >> 32) }
func (id EntityID) IsZero() bool       { return id == 0 }

// String renders the ID as "index:generation", the form operators type into
// the admin console.
func (id EntityID) String() string {
	return fmt.Sprintf("%d:%d", id.Index(), id.Generation())
}

// ParseEntityID accepts "index:generation" or the raw 64-bit value.
func ParseEntityID(s string) (EntityID, error) {
	if idx, gen, ok := strings.Cut(s, ":"); ok {
		i, err := strconv.ParseUint(idx, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("parse entity index %q: %w", idx, err)
		}
		g, err := strconv.ParseUint(gen, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("parse entity generation %q: %w", gen, err)
		}
		return NewEntityID(uint32(i), uint32(g)), nil
	}
	raw, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse entity id %q: %w", s, err)
	}
	return EntityID(raw), nil
}

// EntityPool manages entity allocation with generational indices and a free list.
// Generations start at 1 so the zero EntityID is never handed out.
type EntityPool struct {
	generations []uint32
	freeList    []uint32
	nextIndex   uint32
	alive       int
}

func NewEntityPool() *EntityPool {
	return &EntityPool{
		generations: make([]uint32, 0, 1024),
		freeList:    make([]uint32, 0, 256),
	}
}

func (p *EntityPool) Create() EntityID {
	p.alive++
	if len(p.freeList) > 0 {
		idx := p.freeList[len(p.freeList)-1]
		p.freeList = p.freeList[:len(p.freeList)-1]
		return NewEntityID(idx, p.generations[idx])
	}
	idx := p.nextIndex
	p.nextIndex++
	if int(idx) >= len(p.generations) {
		p.generations = append(p.generations, 1)
	}
	return NewEntityID(idx, p.generations[idx])
}

func (p *EntityPool) Alive(id EntityID) bool {
	idx := id.Index()
	if idx >= p.nextIndex {
		return false
	}
	return p.generations[idx] == id.Generation()
}

// Destroy retires id. Returns false if id was already stale.
func (p *EntityPool) Destroy(id EntityID) bool {
	if !p.Alive(id) {
		return false
	}
	idx := id.Index()
	p.generations[idx]++
	if p.generations[idx] == 0 {
		p.generations[idx] = 1 // wrapped; zero is reserved
	}
	p.freeList = append(p.freeList, idx)
	p.alive--
	return true
}

// Len returns the number of live entities.
func (p *EntityPool) Len() int { return p.alive }
