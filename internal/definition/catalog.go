package definition

import (
	"context"
	"fmt"

	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/pkg/schema"
)

// DocumentStore persists raw definition documents.
type DocumentStore interface {
	StoreDefinition(ctx context.Context, doc *store.DefinitionDocument) error
	GetDefinition(ctx context.Context, id string, version int) (*store.DefinitionDocument, error)
	ListDefinitions(ctx context.Context) ([]*store.DefinitionDocument, error)
}

// Catalog resolves workflows from the in-memory registry and falls back to
// documents persisted in the store.
type Catalog struct {
	loader   *Loader
	registry *Registry
	docs     DocumentStore
}

// NewCatalog creates a Catalog. docs may be nil for a memory-only catalog.
func NewCatalog(loader *Loader, registry *Registry, docs DocumentStore) *Catalog {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Catalog{loader: loader, registry: registry, docs: docs}
}

// Registry returns the underlying registry.
func (c *Catalog) Registry() *Registry { return c.registry }

// Define compiles a document, persists it and registers the result.
func (c *Catalog) Define(ctx context.Context, body []byte, format string) (*Workflow, error) {
	wf, err := c.loader.Parse(body, format)
	if err != nil {
		return nil, err
	}
	if c.docs != nil {
		doc := &store.DefinitionDocument{ID: wf.ID, Version: wf.Version, Format: format, Body: body}
		if err := c.docs.StoreDefinition(ctx, doc); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "store definition: %s", err.Error()).WithCause(err)
		}
	}
	c.registry.Register(wf)
	return wf, nil
}

// DefineFile registers the document at path.
func (c *Catalog) DefineFile(ctx context.Context, path string) (*Workflow, error) {
	body, format, err := ReadDocument(path)
	if err != nil {
		return nil, err
	}
	return c.Define(ctx, body, format)
}

// DefineDir registers every document under dir and returns how many were
// defined. An empty dir defines nothing.
func (c *Catalog) DefineDir(ctx context.Context, dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	var n int
	err := WalkDocuments(dir, func(_ string, body []byte, format string) error {
		if _, err := c.Define(ctx, body, format); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

// Get returns the workflow for id and version (0 = latest).
func (c *Catalog) Get(ctx context.Context, id string, version int) (*Workflow, error) {
	wf, err := c.registry.Get(id, version)
	if err == nil || c.docs == nil || !schema.HasCode(err, schema.ErrCodeNotFound) {
		return wf, err
	}

	doc, derr := c.docs.GetDefinition(ctx, id, version)
	if derr != nil {
		if schema.HasCode(derr, schema.ErrCodeNotFound) {
			return nil, err
		}
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load definition: %s", derr.Error()).WithCause(derr)
	}
	wf, err = c.loader.Parse(doc.Body, doc.Format)
	if err != nil {
		return nil, fmt.Errorf("compile stored definition %s v%d: %w", doc.ID, doc.Version, err)
	}
	c.registry.Register(wf)
	return wf, nil
}

// Warm registers every persisted document and returns how many were loaded.
func (c *Catalog) Warm(ctx context.Context) (int, error) {
	if c.docs == nil {
		return 0, nil
	}
	docs, err := c.docs.ListDefinitions(ctx)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeStore, "list definitions: %s", err.Error()).WithCause(err)
	}
	for _, doc := range docs {
		wf, err := c.loader.Parse(doc.Body, doc.Format)
		if err != nil {
			return 0, fmt.Errorf("compile stored definition %s v%d: %w", doc.ID, doc.Version, err)
		}
		c.registry.Register(wf)
	}
	return len(docs), nil
}
