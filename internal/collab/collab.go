// Package collab defines the narrow interfaces the core uses to talk to
// everything spec.md treats as an external collaborator: the session
// environment, the event telemetry sink, and proxy discovery. The core
// never implements these concerns itself; it is handed a collaborator and
// calls it at the documented points.
package collab

// SessionEnv is the logged-in graphical session the core hands control back
// to once a device is unlocked: its user name for the password change, and
// the uid/gid/home used when seeding per-user state.
type SessionEnv struct {
	User string
	UID  int
	GID  int
	Home string
}

// SessionProvider returns the current graphical session, if any. A live
// environment with no logged-in user (e.g. a headless unlock) returns
// ok=false; callers skip the session-only post-unlock steps in that case.
type SessionProvider interface {
	Current() (env SessionEnv, ok bool)
}

// NoopSessionProvider always reports no logged-in session; post-unlock
// steps that need one are skipped rather than failing.
type NoopSessionProvider struct{}

func (NoopSessionProvider) Current() (SessionEnv, bool) { return SessionEnv{}, false }

var _ SessionProvider = NoopSessionProvider{}

// EventSink records non-fatal events and exceptions raised by best-effort
// operations. Every call is fire-and-forget: a sink that itself fails must
// swallow its own error rather than propagate it into the caller's flow.
type EventSink interface {
	AddEvent(kind, payload string)
	AddExceptionEvent(module string, err error)
}

// NoopEventSink discards everything; it is the default when no telemetry
// collaborator is wired in, per the Non-goal excluding a core event log.
type NoopEventSink struct{}

func (NoopEventSink) AddEvent(kind, payload string)              {}
func (NoopEventSink) AddExceptionEvent(module string, err error) {}

var _ EventSink = NoopEventSink{}

// ProxyFinder resolves the HTTP(S) proxy the builder should use for the
// container engine pull and any component that fetches packages over the
// network. The core never implements PAC discovery itself (Non-goal); it
// only reads http_proxy/https_proxy from the environment unless a
// collaborator is wired in.
type ProxyFinder interface {
	// FindProxy returns the proxy URL to use for targetURL, or "" if none
	// applies.
	FindProxy(targetURL string) (string, error)
}

// NoopProxyFinder never finds a proxy; build.LiveBuilder falls back to the
// process environment's http_proxy/https_proxy in that case.
type NoopProxyFinder struct{}

func (NoopProxyFinder) FindProxy(targetURL string) (string, error) { return "", nil }

var _ ProxyFinder = NoopProxyFinder{}

// UpdatePipeline receives the credentials produced by a successful unlock
// so staged updates can be applied with them, per spec.md §6. Machine.Unlock's
// Result carries these three values; nothing in this module calls
// ApplyUpdates, and the core never implements update application itself.
type UpdatePipeline interface {
	ApplyUpdates(blob0 []byte, internalPassword, dataPassword string) error
}

// NoopUpdatePipeline does nothing; it is the default when no update
// collaborator is wired in.
type NoopUpdatePipeline struct{}

func (NoopUpdatePipeline) ApplyUpdates(blob0 []byte, internalPassword, dataPassword string) error {
	return nil
}

var _ UpdatePipeline = NoopUpdatePipeline{}
