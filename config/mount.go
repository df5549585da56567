package config

// MountOptions holds high-level settings for FUSE mounting.
// No go-fuse types are exposed here.
type MountOptions struct {
	Debug  bool   // fuse debug logs
	FsName string // mount's FsName
	Name   string // mount's Name
}

// ListenOptions holds settings for the WebDAV listener.
type ListenOptions struct {
	Addr        string // host:port to listen on
	Prefix      string // URL path prefix the WebDAV tree is served under
	MetricsPath string // URL path for prometheus metrics; empty disables
	Anonymous   bool   // skip basic auth and open backends with empty credentials
}
