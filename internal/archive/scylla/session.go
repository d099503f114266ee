package scylla

import (
	"fmt"

	"github.com/gocql/gocql"

	"github.com/acme/outbound-voice-orchestrator/internal/config"
)

// Session wraps a gocql session dedicated to the archive keyspace.
type Session struct {
	session *gocql.Session
}

// NewSession opens a gocql session against the configured Scylla cluster.
// Callers should skip connecting entirely when cfg.Enabled is false.
func NewSession(cfg config.ScyllaConfig) (*Session, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Port = cfg.Port
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.Timeout = cfg.Timeout
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 3}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla: create session: %w", err)
	}

	if !cfg.DisableInitSchema {
		if err := initSchema(session, cfg.Keyspace); err != nil {
			session.Close()
			return nil, fmt.Errorf("scylla: init schema: %w", err)
		}
	}

	return &Session{session: session}, nil
}

// Raw exposes the underlying gocql session for archive construction.
func (s *Session) Raw() *gocql.Session {
	return s.session
}

// Close shuts down the session.
func (s *Session) Close() error {
	if s.session != nil {
		s.session.Close()
	}
	return nil
}

func initSchema(session *gocql.Session, keyspace string) error {
	stmt := `CREATE TABLE IF NOT EXISTS call_history (
		bucket timestamp,
		created_at timestamp,
		call_id text,
		contact_id text,
		phone text,
		attempt_index int,
		status text,
		answered_by text,
		conversation_id text,
		PRIMARY KEY (bucket, created_at, call_id)
	) WITH CLUSTERING ORDER BY (created_at DESC)`
	return session.Query(stmt).Exec()
}

func parseConsistency(level string) gocql.Consistency {
	switch level {
	case "one":
		return gocql.One
	case "local_quorum":
		return gocql.LocalQuorum
	case "local_one":
		return gocql.LocalOne
	case "each_quorum":
		return gocql.EachQuorum
	case "quorum":
		fallthrough
	default:
		return gocql.Quorum
	}
}
