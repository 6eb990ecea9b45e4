package persona

// Store exposes persona retrieval for HTTP handlers.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// MemoryStore implements Store over the fixed catalog personas.
type MemoryStore struct {
	items []Persona
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
func NewMemoryStore(items []Persona) *MemoryStore {
	return &MemoryStore{items: append([]Persona(nil), items...)}
}

// NewCatalogStore 将目录中所有固定角色（对话模式、辩论对手、盟友、董事会）合并为一个 Store。
func NewCatalogStore(c *Catalog) *MemoryStore {
	items := make([]Persona, 0, len(c.Modes)+len(c.Debate)+len(c.Board)+1)
	items = append(items, c.Modes...)
	items = append(items, c.Debate...)
	items = append(items, c.Ally)
	items = append(items, c.Board...)
	return NewMemoryStore(items)
}

// List returns the predefined persona list.
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	return find(s.items, id)
}
