package ecs

// World is the top-level ECS container. It owns the entity pool and the
// component stores tracked for cleanup. Entity storage is released
// immediately by Free; deciding *when* an entity may be freed is the job of
// the reclamation engine, which requests destruction and later confirms the
// entity is gone.
type World struct {
	pool   *EntityPool
	stores []Removable
	freed  uint64
}

func NewWorld() *World {
	return &World{
		pool:   NewEntityPool(),
		stores: make([]Removable, 0, 4),
	}
}

// Track registers a component store so Free clears it.
func (w *World) Track(stores ...Removable) {
	w.stores = append(w.stores, stores...)
}

func (w *World) CreateEntity() EntityID {
	return w.pool.Create()
}

func (w *World) Alive(id EntityID) bool {
	return w.pool.Alive(id)
}

// Free clears the entity from every tracked store and retires its ID.
// Stale IDs are ignored.
func (w *World) Free(id EntityID) bool {
	if !w.pool.Alive(id) {
		return false
	}
	for _, s := range w.stores {
		s.Remove(id)
	}
	w.pool.Destroy(id)
	w.freed++
	return true
}

// Freed returns the number of entities released since the world was created.
func (w *World) Freed() uint64 { return w.freed }
