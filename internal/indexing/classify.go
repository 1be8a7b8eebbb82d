package indexing

// Default type identifiers used when configuration does not override them.
const (
	DefaultRootID = "collections"

	TypeContentRoot = "ContentRoot"
	TypeAdminUnit   = "AdminUnit"
	TypeCollection  = "Collection"
	TypeFolder      = "Folder"
	TypeWork        = "Work"
	TypeFile        = "File"
	TypeTombstone   = "Tombstone"
)

// Classification decides how a node is treated from its graph type set.
// It is configuration, injected wherever classification is needed.
type Classification struct {
	// RootID is the content root; deleting its tree clears the index.
	RootID string

	// Containers are recursed into.
	Containers map[string]struct{}

	// Leaves are indexed but never recursed into.
	Leaves map[string]struct{}

	// Tombstone marks a destroyed node.
	Tombstone string
}

// NewClassification builds a Classification from type lists.
func NewClassification(rootID string, containers, leaves []string, tombstone string) Classification {
	c := Classification{
		RootID:     rootID,
		Containers: make(map[string]struct{}, len(containers)),
		Leaves:     make(map[string]struct{}, len(leaves)),
		Tombstone:  tombstone,
	}
	for _, t := range containers {
		c.Containers[t] = struct{}{}
	}
	for _, t := range leaves {
		c.Leaves[t] = struct{}{}
	}
	return c
}

// DefaultClassification returns the standard repository type model.
func DefaultClassification() Classification {
	return NewClassification(DefaultRootID,
		[]string{TypeContentRoot, TypeAdminUnit, TypeCollection, TypeFolder, TypeWork},
		[]string{TypeFile},
		TypeTombstone)
}

// IsRoot reports whether id is the content root.
func (c Classification) IsRoot(id string) bool {
	return id != "" && id == c.RootID
}

// IsTombstone reports whether the type set carries the tombstone marker.
func (c Classification) IsTombstone(types []string) bool {
	for _, t := range types {
		if t == c.Tombstone {
			return true
		}
	}
	return false
}

// IsContainer reports whether the type set intersects the container types.
func (c Classification) IsContainer(types []string) bool {
	for _, t := range types {
		if c.IsContainerType(t) {
			return true
		}
	}
	return false
}

// IsContainerType reports whether a single type is a container type.
func (c Classification) IsContainerType(t string) bool {
	_, ok := c.Containers[t]
	return ok
}

// IsLeafType reports whether a single type is a leaf type.
func (c Classification) IsLeafType(t string) bool {
	_, ok := c.Leaves[t]
	return ok
}

// ResourceType picks the type recorded on the indexed document: the first
// container type, else the first leaf type, else the first type given.
func (c Classification) ResourceType(types []string) string {
	for _, t := range types {
		if c.IsContainerType(t) {
			return t
		}
	}
	for _, t := range types {
		if c.IsLeafType(t) {
			return t
		}
	}
	if len(types) > 0 {
		return types[0]
	}
	return ""
}
