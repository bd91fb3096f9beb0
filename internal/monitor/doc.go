// Package monitor defines the core types shared across the tick pipeline
// (sites, work entries, outcomes) and the collaborator interfaces the
// dispatcher, region workers, and batch consumer depend on. Implementations
// live in other packages; this package must not import database drivers or
// concrete clients.
package monitor
