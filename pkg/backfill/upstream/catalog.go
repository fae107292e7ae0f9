package upstream

import "context"

// EntityCatalog resolves the set of entity IDs a data-collection job covers
// when its config names none. Entity IDs that a job does name are used as
// given; they are not checked against the catalog.
type EntityCatalog interface {
	ListEntities(ctx context.Context) ([]string, error)
}

// StaticCatalog is an in-memory EntityCatalog seeded at startup, the
// default production implementation until a dynamic source is needed.
type StaticCatalog struct {
	entities []string
}

// NewStaticCatalog creates a StaticCatalog over the given entity IDs.
func NewStaticCatalog(entities []string) *StaticCatalog {
	return &StaticCatalog{entities: entities}
}

func (c *StaticCatalog) ListEntities(context.Context) ([]string, error) {
	return c.entities, nil
}

var _ EntityCatalog = (*StaticCatalog)(nil)
