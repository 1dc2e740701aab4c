package engine

import (
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/lockstep/collective"
)

// A Storage is one named array of domain data.
//
// Data is opaque to the engine, except for support masks,
// which are stored with Data of type []bool.
type Storage struct {
	Shape []int
	Data  interface{}
}

// A Container holds a collection of named storages, such as
// all of the probe arrays of a run.
type Container struct {
	storages map[string]*Storage
}

// NewContainer creates an empty Container.
func NewContainer() *Container {
	return &Container{storages: map[string]*Storage{}}
}

// Put adds or replaces a storage.
func (c *Container) Put(name string, s *Storage) {
	c.storages[name] = s
}

// Get looks up a storage by name.
func (c *Container) Get(name string) (*Storage, bool) {
	s, ok := c.storages[name]
	return s, ok
}

// Len gets the number of storages.
func (c *Container) Len() int {
	return len(c.storages)
}

// Names gets the storage names in sorted order.
func (c *Container) Names() []string {
	names := make([]string, 0, len(c.storages))
	for name := range c.storages {
		names = append(names, name)
	}
	essentials.VoodooSort(names, func(i, j int) bool {
		return names[i] < names[j]
	})
	return names
}

// A Pod ties together the storages that take part in one
// unit of work. Each field names a storage in the matching
// Context container.
type Pod struct {
	ID    string
	Diff  string
	Obj   string
	Probe string
	Mask  string
	Exit  string
}

// A Context carries the data of a run to the hooks.
//
// The engine passes it through unchanged, apart from reading
// the probe container to compute support masks.
type Context struct {
	Diff  *Container
	Obj   *Container
	Probe *Container
	Mask  *Container
	Exit  *Container

	Pods map[string]*Pod

	// Comm is the communicator of this rank, or nil for a
	// single-process run.
	Comm *collective.Comm
}

// NewContext creates a Context with empty containers.
func NewContext(comm *collective.Comm) *Context {
	return &Context{
		Diff:  NewContainer(),
		Obj:   NewContainer(),
		Probe: NewContainer(),
		Mask:  NewContainer(),
		Exit:  NewContainer(),
		Pods:  map[string]*Pod{},
		Comm:  comm,
	}
}

func (c *Context) rank() int {
	if c == nil || c.Comm == nil {
		return 0
	}
	return c.Comm.Rank()
}
