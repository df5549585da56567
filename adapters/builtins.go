package adapters

import "github.com/brettbedarf/wikifs/config"

// NOTE: If build bloat becomes a concern for unused backends
// look into build tags i.e. +build !nos3
// or nested packages with init() and main app can include just importing
// import (_ github.com/.../adapters/s3)

type BuiltInBackendType = string

// RegisterBuiltins registers all built-in backends with the default registry
// or only the specific ones if types are provided
func RegisterBuiltins(types ...BuiltInBackendType) {
	RegisterBuiltinsTo(defaultRegistry, types...)
}

// RegisterBuiltinsTo is [RegisterBuiltins] for a specific registry
func RegisterBuiltinsTo(r *Registry, types ...BuiltInBackendType) {
	if len(types) == 0 {
		// Include all built-in backends here when adding implementations
		types = append(types,
			config.MemoryBackend,
			config.BadgerBackend,
			config.MediaWikiBackend,
			config.PostgresBackend,
			config.SQLiteBackend,
			config.S3Backend,
		)
	}

	for _, t := range types {
		switch t {
		case config.MemoryBackend:
			r.Register(t, newMemoryProvider)
		case config.BadgerBackend:
			r.Register(t, newBadgerProvider)
		case config.MediaWikiBackend:
			r.Register(t, newMediaWikiProvider)
		case config.PostgresBackend:
			r.Register(t, newPostgresProvider)
		case config.SQLiteBackend:
			r.Register(t, newSQLiteProvider)
		case config.S3Backend:
			r.Register(t, newS3Provider)
		}
	}
}
