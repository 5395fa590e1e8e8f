package store

// Relationship defines a parent-child reference between two kinds.
type Relationship struct {
	// ParentKind is the parent entity kind (e.g., "travel").
	ParentKind Kind

	// ChildKind is the child entity kind (e.g., "service").
	ChildKind Kind

	// ParentIndex is the index on the child holding the parent ID (e.g., "travel").
	ParentIndex string

	// Cascade marks children that go away with their parent. Children of a
	// non-cascading relationship are left in place when the parent is removed.
	Cascade bool
}

// Registry indexes relationships by both ends. Lookups keep registration
// order.
type Registry struct {
	byParent map[Kind][]Relationship
	byChild  map[Kind][]Relationship
}

func NewRegistry() *Registry {
	return &Registry{
		byParent: make(map[Kind][]Relationship),
		byChild:  make(map[Kind][]Relationship),
	}
}

// Register adds rel. Registering the same relationship twice records it twice.
func (r *Registry) Register(rel Relationship) {
	r.byParent[rel.ParentKind] = append(r.byParent[rel.ParentKind], rel)
	r.byChild[rel.ChildKind] = append(r.byChild[rel.ChildKind], rel)
}

// ChildrenOf returns all child relationships for a given parent kind.
func (r *Registry) ChildrenOf(parent Kind) []Relationship {
	return r.byParent[parent]
}

// ParentsOf returns all relationships in which kind is the child.
func (r *Registry) ParentsOf(child Kind) []Relationship {
	return r.byChild[child]
}

// CascadesFrom returns the relationships whose children are removed along
// with a parent of the given kind.
func (r *Registry) CascadesFrom(parent Kind) []Relationship {
	var out []Relationship
	for _, rel := range r.byParent[parent] {
		if rel.Cascade {
			out = append(out, rel)
		}
	}
	return out
}
