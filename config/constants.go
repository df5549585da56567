package config

// CLI verbosity values accepted by [ConfigOverride.LogLvl]
const (
	ErrorVerbose = iota + 1
	WarnVerbose
	InfoVerbose
	DebugVerbose
	TraceVerbose
)

// Built-in backend type names. See the adapters package for their options.
const (
	MemoryBackend    = "memory"
	BadgerBackend    = "badger"
	MediaWikiBackend = "mediawiki"
	PostgresBackend  = "postgres"
	SQLiteBackend    = "sqlite"
	S3Backend        = "s3"
)
