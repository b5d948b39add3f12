// Package catalog is the in-process registry of finalized resources. The
// streaming path resolves resource ids against it, upload finalization
// feeds it.
package catalog

import (
	"errors"
	"time"

	"github.com/MuhamedUsman/letstream/internal/store"
)

// ErrNotFound is returned when no resource is registered under the given id.
var ErrNotFound = errors.New("resource not found")

// Resource describes one finalized artifact: the metadata the transfer path
// needs plus the artifact store key its bytes live under.
type Resource struct {
	ID        string
	Name      string
	Size      uint64
	MimeType  string
	Key       string
	OwnerID   string
	FolderID  string
	CreatedAt time.Time
}

// Catalog maps resource ids to their metadata. Safe for concurrent use.
type Catalog struct {
	resources store.KV[string, Resource]
}

// New returns an empty catalog backed by in-process memory.
func New() *Catalog {
	return &Catalog{resources: store.NewMemory[string, Resource]()}
}

// Put registers res under its ID, replacing any previous entry.
func (c *Catalog) Put(res Resource) {
	c.resources.Set(res.ID, res)
}

// Get returns the resource registered under id.
func (c *Catalog) Get(id string) (Resource, error) {
	res, ok := c.resources.Get(id)
	if !ok {
		return Resource{}, ErrNotFound
	}
	return res, nil
}

// Remove drops the resource registered under id, reporting whether one
// existed. The artifact bytes under Resource.Key are the caller's to delete.
func (c *Catalog) Remove(id string) bool {
	return c.resources.Delete(id)
}

// Len returns the number of registered resources.
func (c *Catalog) Len() int { return c.resources.Len() }
