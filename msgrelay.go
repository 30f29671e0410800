package msgrelay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"msgrelay/internal/config"
	"msgrelay/internal/history"
	"msgrelay/internal/history/factory"
	"msgrelay/internal/lock"
	"msgrelay/internal/metrics"
	"msgrelay/internal/record"
	iapi "msgrelay/internal/server"
	"msgrelay/internal/spool"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Record = record.Record

type Field = record.Field

type State = spool.State

const (
	StateQueue      = spool.StateQueue
	StateSent       = spool.StateSent
	StateFailed     = spool.StateFailed
	StateDispatched = spool.StateDispatched
)

type Config = config.Config

type HistorySink = history.Sink

// LoadConfig reads the TOML configuration at path; an empty path yields the
// built-in defaults.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// Spool is a thin facade over the on-disk spool store for embedding
// producers that want to queue records without shelling out to the CLI.
type Spool struct{ inner *spool.Store }

// OpenSpool returns a spool rooted at dir, creating the state directories.
func OpenSpool(dir string) (*Spool, error) {
	s := spool.New(dir)
	if err := s.EnsureLayout(); err != nil {
		return nil, err
	}
	return &Spool{inner: s}, nil
}

// Submit queues rec, stamping its created timestamp if unset, and returns
// the entry path.
func (s *Spool) Submit(rec *Record) (string, error) { return s.inner.Submit(rec, "") }

// Depths returns the number of entries per spool state.
func (s *Spool) Depths() (map[State]int, error) { return s.inner.Depths() }

// Dir returns the directory backing one spool state.
func (s *Spool) Dir(state State) string { return s.inner.Dir(state) }

// DaemonStatus reads the lock file at path and reports the owner pid and
// state (running, stale, stopped).
func DaemonStatus(lockPath string) (int, string, error) {
	pid, state, err := lock.Status(lockPath)
	return pid, string(state), err
}

// NewHistorySink builds an outcome export sink from a DSN
// (sqlite/postgres/clickhouse/opensearch).
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// NewStatusHandler returns the daemon status API as an http.Handler for
// mounting into an embedding application.
func NewStatusHandler(spoolDir, lockPath, basePath string) http.Handler {
	return iapi.NewRouter(spool.New(spoolDir), lockPath, basePath).Handler()
}

// RegisterMetricsDefault registers the dispatcher collectors with the
// default Prometheus registry.
func RegisterMetricsDefault() error { return metrics.Register(prometheus.DefaultRegisterer) }
