// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package intake

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Artifact is one delivered memo payload served from the local cache.
// ContentHash is the hex BLAKE3 digest of the uncompressed bytes and
// doubles as the HTTP ETag.
type Artifact struct {
	IntakeID    string
	ContentType string
	ContentHash string
	Body        []byte
}

// Shared zstd coders. Both are safe for concurrent EncodeAll /
// DecodeAll use.
var (
	artifactEncoder *zstd.Encoder
	artifactDecoder *zstd.Decoder
)

func init() {
	var err error
	artifactEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("intake: initializing zstd encoder: %v", err))
	}
	artifactDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("intake: initializing zstd decoder: %v", err))
	}
}

// PutArtifact caches a delivered memo for a session, compressed at
// rest. Storing again for the same session replaces the cached copy;
// the artifact a backend regenerates is authoritative.
func (s *Store) PutArtifact(ctx context.Context, intakeID, contentType string, body []byte) (*Artifact, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	digest := blake3.Sum256(body)
	artifact := &Artifact{
		IntakeID:    intakeID,
		ContentType: contentType,
		ContentHash: hex.EncodeToString(digest[:]),
		Body:        body,
	}
	compressed := artifactEncoder.EncodeAll(body, nil)

	now := s.clock.Now()
	err = sqlitex.Execute(conn,
		`INSERT INTO artifact_cache (intake_id, content_type, content_hash, compression, uncompressed_size, payload, stored_at)
		 VALUES (?, ?, ?, 'zstd', ?, ?, ?)
		 ON CONFLICT (intake_id) DO UPDATE SET
		   content_type = excluded.content_type,
		   content_hash = excluded.content_hash,
		   compression = excluded.compression,
		   uncompressed_size = excluded.uncompressed_size,
		   payload = excluded.payload,
		   stored_at = excluded.stored_at`,
		&sqlitex.ExecOptions{Args: []any{
			intakeID, contentType, artifact.ContentHash, int64(len(body)), compressed, now.Unix(),
		}})
	if err != nil {
		return nil, fmt.Errorf("intake: caching artifact for %s: %w", intakeID, err)
	}

	s.logger.Info("artifact cached",
		"intake_id", intakeID,
		"size", len(body),
		"compressed_size", len(compressed),
	)
	return artifact, nil
}

// GetArtifact returns the cached memo for a session, decompressed.
// Returns ErrNotFound when nothing has been cached.
func (s *Store) GetArtifact(ctx context.Context, intakeID string) (*Artifact, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var artifact *Artifact
	var compressed []byte
	var uncompressedSize int64
	err = sqlitex.Execute(conn,
		`SELECT content_type, content_hash, uncompressed_size, payload FROM artifact_cache WHERE intake_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{intakeID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				artifact = &Artifact{
					IntakeID:    intakeID,
					ContentType: stmt.ColumnText(0),
					ContentHash: stmt.ColumnText(1),
				}
				uncompressedSize = stmt.ColumnInt64(2)
				compressed = make([]byte, stmt.ColumnLen(3))
				stmt.ColumnBytes(3, compressed)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("intake: loading artifact for %s: %w", intakeID, err)
	}
	if artifact == nil {
		return nil, fmt.Errorf("intake: artifact for %s: %w", intakeID, ErrNotFound)
	}

	artifact.Body, err = artifactDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("intake: decompressing artifact for %s: %w", intakeID, err)
	}
	return artifact, nil
}
