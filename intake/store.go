// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package intake

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/lumenwealth/memoflow/lib/clock"
	"github.com/lumenwealth/memoflow/lib/codec"
	"github.com/lumenwealth/memoflow/lib/sqlitepool"
)

// Schema returns the session store schema. Pass this to the pool's
// OnConnect hook via PrepareSchema.
const schema = `
	CREATE TABLE IF NOT EXISTS intake (
		id                 TEXT PRIMARY KEY,
		user_id            TEXT NOT NULL,
		contact            TEXT NOT NULL DEFAULT '',
		status             TEXT NOT NULL,
		created_at         INTEGER NOT NULL,
		last_transition_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_intake_status ON intake(status, last_transition_at);

	CREATE TABLE IF NOT EXISTS answer (
		intake_id   TEXT NOT NULL REFERENCES intake(id),
		position    INTEGER NOT NULL,
		question_id TEXT NOT NULL,
		value       TEXT NOT NULL,
		answered_at INTEGER NOT NULL,
		PRIMARY KEY (intake_id, question_id)
	);

	CREATE TABLE IF NOT EXISTS discovery (
		intake_id  TEXT NOT NULL REFERENCES intake(id),
		sequence   INTEGER NOT NULL,
		id         TEXT NOT NULL,
		type       TEXT NOT NULL,
		payload    BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (intake_id, sequence)
	);

	CREATE TABLE IF NOT EXISTS payment_order (
		order_id    TEXT PRIMARY KEY,
		intake_id   TEXT NOT NULL REFERENCES intake(id),
		amount      INTEGER NOT NULL,
		currency    TEXT NOT NULL,
		status      TEXT NOT NULL,
		payment_id  TEXT NOT NULL DEFAULT '',
		signature   TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL,
		verified_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_order_intake ON payment_order(intake_id, created_at);

	CREATE TABLE IF NOT EXISTS artifact_cache (
		intake_id         TEXT PRIMARY KEY REFERENCES intake(id),
		content_type      TEXT NOT NULL,
		content_hash      TEXT NOT NULL,
		compression       TEXT NOT NULL,
		uncompressed_size INTEGER NOT NULL,
		payload           BLOB NOT NULL,
		stored_at         INTEGER NOT NULL
	);
`

// PrepareSchema creates the session store tables on a connection.
// Intended as the sqlitepool OnConnect hook.
func PrepareSchema(conn *sqlite.Conn) error {
	return sqlitex.ExecuteScript(conn, schema, nil)
}

// Store is the durable record of intake sessions: answers,
// discoveries, payment orders, and the delivered-artifact cache.
//
// All mutations for a given session are serialized through a
// per-session lock (single-writer semantics); different sessions
// proceed in parallel. Reads take no session lock.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger

	mu           sync.Mutex
	sessionLocks map[string]*sync.Mutex
}

// NewStore creates a Store on an opened pool. The pool must have been
// opened with PrepareSchema as its OnConnect hook.
func NewStore(pool *sqlitepool.Pool, clk clock.Clock, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		pool:         pool,
		clock:        clk,
		logger:       logger,
		sessionLocks: make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex serializing writes for one session,
// creating it on first use. Lock entries are never removed — sessions
// are never deleted, and the per-entry cost is one mutex.
func (s *Store) sessionLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.sessionLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.sessionLocks[id] = lock
	}
	return lock
}

// CreateSession starts a new intake for a user. The session begins in
// StatusCreated.
func (s *Store) CreateSession(ctx context.Context, userID, contact string) (*Session, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	now := s.clock.Now()
	session := &Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		Contact:          contact,
		Status:           StatusCreated,
		CreatedAt:        now,
		LastTransitionAt: now,
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO intake (id, user_id, contact, status, created_at, last_transition_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			session.ID, userID, contact, string(StatusCreated), now.Unix(), now.Unix(),
		}})
	if err != nil {
		return nil, fmt.Errorf("intake: creating session: %w", err)
	}

	s.logger.Info("intake session created", "intake_id", session.ID, "user_id", userID)
	return session, nil
}

// GetSession loads a session with its answers, discoveries, and
// current payment order. Returns ErrNotFound for unknown IDs.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	return s.loadSession(conn, id)
}

// loadSession reads the full session from one connection.
func (s *Store) loadSession(conn *sqlite.Conn, id string) (*Session, error) {
	var session *Session
	err := sqlitex.Execute(conn,
		`SELECT user_id, contact, status, created_at, last_transition_at FROM intake WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				session = &Session{
					ID:               id,
					UserID:           stmt.ColumnText(0),
					Contact:          stmt.ColumnText(1),
					Status:           Status(stmt.ColumnText(2)),
					CreatedAt:        time.Unix(stmt.ColumnInt64(3), 0).UTC(),
					LastTransitionAt: time.Unix(stmt.ColumnInt64(4), 0).UTC(),
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("intake: loading session %s: %w", id, err)
	}
	if session == nil {
		return nil, fmt.Errorf("intake: session %s: %w", id, ErrNotFound)
	}

	err = sqlitex.Execute(conn,
		`SELECT question_id, value, answered_at FROM answer WHERE intake_id = ? ORDER BY position`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				session.Answers = append(session.Answers, Answer{
					QuestionID: stmt.ColumnText(0),
					Value:      stmt.ColumnText(1),
					AnsweredAt: time.Unix(stmt.ColumnInt64(2), 0).UTC(),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("intake: loading answers for %s: %w", id, err)
	}

	err = sqlitex.Execute(conn,
		`SELECT sequence, id, type, payload, created_at FROM discovery WHERE intake_id = ? ORDER BY sequence`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				payload := make([]byte, stmt.ColumnLen(3))
				stmt.ColumnBytes(3, payload)

				var decoded map[string]any
				if err := codec.Unmarshal(payload, &decoded); err != nil {
					return fmt.Errorf("decoding discovery payload: %w", err)
				}

				session.Discoveries = append(session.Discoveries, Discovery{
					Sequence:  stmt.ColumnInt64(0),
					ID:        stmt.ColumnText(1),
					Type:      DiscoveryType(stmt.ColumnText(2)),
					Payload:   decoded,
					CreatedAt: time.Unix(stmt.ColumnInt64(4), 0).UTC(),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("intake: loading discoveries for %s: %w", id, err)
	}

	// Current payment = newest order that has not been superseded.
	err = sqlitex.Execute(conn,
		`SELECT order_id, amount, currency, status, payment_id, signature, created_at, verified_at
		 FROM payment_order
		 WHERE intake_id = ? AND status != ?
		 ORDER BY created_at DESC, order_id DESC LIMIT 1`,
		&sqlitex.ExecOptions{
			Args:       []any{id, string(OrderSuperseded)},
			ResultFunc: scanOrder(id, &session.Payment),
		})
	if err != nil {
		return nil, fmt.Errorf("intake: loading payment for %s: %w", id, err)
	}

	return session, nil
}

// scanOrder builds a ResultFunc that decodes one payment_order row
// into *target.
func scanOrder(intakeID string, target **PaymentOrder) func(stmt *sqlite.Stmt) error {
	return func(stmt *sqlite.Stmt) error {
		order := &PaymentOrder{
			OrderID:   stmt.ColumnText(0),
			IntakeID:  intakeID,
			Amount:    stmt.ColumnInt64(1),
			Currency:  stmt.ColumnText(2),
			Status:    OrderStatus(stmt.ColumnText(3)),
			PaymentID: stmt.ColumnText(4),
			Signature: stmt.ColumnText(5),
			CreatedAt: time.Unix(stmt.ColumnInt64(6), 0).UTC(),
		}
		if stmt.ColumnType(7) != sqlite.TypeNull {
			verifiedAt := time.Unix(stmt.ColumnInt64(7), 0).UTC()
			order.VerifiedAt = &verifiedAt
		}
		*target = order
		return nil
	}
}

// Transition applies event to the session and persists the new
// status. Transitions for one session are serialized; an event not
// legal in the current status returns a *RejectionError without
// mutating anything. The loser of a concurrent race observes the
// winner's status and is rejected by the table like any other illegal
// transition.
func (s *Store) Transition(ctx context.Context, id string, event Event) (*Session, error) {
	lock := s.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	session, err := s.loadSession(conn, id)
	if err != nil {
		return nil, err
	}

	next, err := Next(id, session.Status, event)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	err = sqlitex.Execute(conn,
		`UPDATE intake SET status = ?, last_transition_at = ? WHERE id = ? AND status = ?`,
		&sqlitex.ExecOptions{Args: []any{
			string(next), now.Unix(), id, string(session.Status),
		}})
	if err != nil {
		return nil, fmt.Errorf("intake: persisting transition for %s: %w", id, err)
	}
	if conn.Changes() == 0 {
		// Another process moved the session between our read and
		// write. The caller must re-fetch and re-decide.
		return nil, &RejectionError{SessionID: id, From: session.Status, Event: event}
	}

	session.Status = next
	session.LastTransitionAt = now.UTC()

	s.logger.Info("intake transition",
		"intake_id", id,
		"event", string(event),
		"status", string(next),
	)
	return session, nil
}

// UpsertAnswer records an answer while the session is answering.
// Re-answering a question updates the value in place, keeping the
// original position; new questions append. Returns the updated total
// answer count.
func (s *Store) UpsertAnswer(ctx context.Context, id, questionID, value string) (int, error) {
	lock := s.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	status, err := s.sessionStatus(conn, id)
	if err != nil {
		return 0, err
	}
	if status != StatusAnswering {
		return 0, &RejectionError{SessionID: id, From: status, Event: EventFirstAnswer}
	}

	now := s.clock.Now()
	err = sqlitex.Execute(conn,
		`INSERT INTO answer (intake_id, position, question_id, value, answered_at)
		 VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM answer WHERE intake_id = ?), ?, ?, ?)
		 ON CONFLICT (intake_id, question_id)
		 DO UPDATE SET value = excluded.value, answered_at = excluded.answered_at`,
		&sqlitex.ExecOptions{Args: []any{id, id, questionID, value, now.Unix()}})
	if err != nil {
		return 0, fmt.Errorf("intake: recording answer for %s: %w", id, err)
	}

	count := 0
	err = sqlitex.Execute(conn,
		`SELECT COUNT(*) FROM answer WHERE intake_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("intake: counting answers for %s: %w", id, err)
	}
	return count, nil
}

// AppendDiscoveries attaches findings to the session, assigning
// monotonic sequence numbers. Discoveries may only grow while the
// session is answering or generating; any other status is rejected.
// Returns the discoveries with sequences assigned.
func (s *Store) AppendDiscoveries(ctx context.Context, id string, discoveries []Discovery) ([]Discovery, error) {
	if len(discoveries) == 0 {
		return nil, nil
	}

	lock := s.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	status, err := s.sessionStatus(conn, id)
	if err != nil {
		return nil, err
	}
	if status != StatusAnswering && status != StatusGenerating {
		return nil, &RejectionError{SessionID: id, From: status, Event: Event("append_discovery")}
	}

	defer sqlitex.Save(conn)(&err)

	var nextSequence int64
	err = sqlitex.Execute(conn,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM discovery WHERE intake_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				nextSequence = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("intake: sequencing discoveries for %s: %w", id, err)
	}

	now := s.clock.Now()
	assigned := make([]Discovery, 0, len(discoveries))
	for _, discovery := range discoveries {
		discovery.Sequence = nextSequence
		nextSequence++
		if discovery.ID == "" {
			discovery.ID = uuid.NewString()
		}
		discovery.CreatedAt = now.UTC()

		var payload []byte
		payload, err = codec.Marshal(discovery.Payload)
		if err != nil {
			return nil, fmt.Errorf("intake: encoding discovery payload: %w", err)
		}

		err = sqlitex.Execute(conn,
			`INSERT INTO discovery (intake_id, sequence, id, type, payload, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				id, discovery.Sequence, discovery.ID, string(discovery.Type), payload, now.Unix(),
			}})
		if err != nil {
			return nil, fmt.Errorf("intake: appending discovery for %s: %w", id, err)
		}
		assigned = append(assigned, discovery)
	}

	return assigned, nil
}

// sessionStatus reads just the status column. Returns ErrNotFound for
// unknown IDs.
func (s *Store) sessionStatus(conn *sqlite.Conn, id string) (Status, error) {
	var status Status
	found := false
	err := sqlitex.Execute(conn,
		`SELECT status FROM intake WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				status = Status(stmt.ColumnText(0))
				found = true
				return nil
			},
		})
	if err != nil {
		return "", fmt.Errorf("intake: reading status for %s: %w", id, err)
	}
	if !found {
		return "", fmt.Errorf("intake: session %s: %w", id, ErrNotFound)
	}
	return status, nil
}

// ListInactiveBefore returns IDs of non-terminal sessions whose last
// transition happened before cutoff. Used by the expiry sweeper.
func (s *Store) ListInactiveBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var ids []string
	err = sqlitex.Execute(conn,
		`SELECT id FROM intake WHERE status NOT IN (?, ?) AND last_transition_at < ?`,
		&sqlitex.ExecOptions{
			Args: []any{string(StatusDelivered), string(StatusExpired), cutoff.Unix()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				ids = append(ids, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("intake: listing inactive sessions: %w", err)
	}
	return ids, nil
}
