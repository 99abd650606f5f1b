package intake

import (
	config "github.com/tigerroll/backfill/pkg/batch/core/config"
)

// ConnectionRouter maps a target table to the connection of the database that owns it.
type ConnectionRouter struct {
	tables   map[string]string
	schemas  map[string]string
	fallback string
}

// NewConnectionRouter creates a router from backfill.routing.
func NewConnectionRouter(cfg *config.Config) *ConnectionRouter {
	return &ConnectionRouter{
		tables:   cfg.Backfill.Routing.Tables,
		schemas:  cfg.Backfill.Routing.Schemas,
		fallback: cfg.Backfill.Scheduler.DefaultConnection,
	}
}

// Route returns the connection for table. Without a schema the table map decides,
// with one the schema map does. Unknown names go to the default connection.
func (r *ConnectionRouter) Route(table, schema string) string {
	if schema == "" {
		if name, ok := r.tables[table]; ok {
			return name
		}
	} else if name, ok := r.schemas[schema]; ok {
		return name
	}
	return r.fallback
}
