package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgVectorStore is a Store backed by PostgreSQL with the pgvector
// extension. Vectors are passed as pgvector text literals and cast to the
// vector type server-side, so no driver-level type registration is needed.
type PgVectorStore struct {
	pool          *pgxpool.Pool
	dimensions    int
	halfLifeHours float64
}

// NewPgVectorStore creates a pgvector-backed store. The memory_entries
// table is created by the database package's migrations.
func NewPgVectorStore(pool *pgxpool.Pool, dimensions int, halfLifeHours float64) *PgVectorStore {
	return &PgVectorStore{
		pool:          pool,
		dimensions:    dimensions,
		halfLifeHours: halfLifeHours,
	}
}

func (s *PgVectorStore) Save(ctx context.Context, entry *Entry) error {
	if err := validateEntry(entry, s.dimensions); err != nil {
		return err
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	} else {
		entry.CreatedAt = entry.CreatedAt.UTC()
	}
	if entry.Version == 0 {
		entry.Version = 1
	}

	var embedding any
	if len(entry.Embedding) > 0 {
		embedding = vectorLiteral(entry.Embedding)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO memory_entries
			(id, agent_id, tenant_id, content, embedding, tags, security_level,
			 version, created_at, access_count, archived)
		VALUES ($1, $2, $3, $4, $5::vector, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.AgentID, entry.TenantID, entry.Content, embedding,
		entry.Tags, string(entry.SecurityLevel), entry.Version,
		entry.CreatedAt, entry.AccessCount, entry.Archived,
	)
	if err != nil {
		return fmt.Errorf("insert memory entry: %w", err)
	}
	return nil
}

func (s *PgVectorStore) Search(ctx context.Context, scope Scope, q SearchQuery) ([]ScoredEntry, error) {
	if scope.Blank() {
		return nil, ErrBlankScope
	}
	if len(q.Vector) > 0 && len(q.Vector) != s.dimensions {
		return nil, &DimensionError{Want: s.dimensions, Got: len(q.Vector)}
	}

	var (
		rows pgx.Rows
		err  error
	)
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	if len(q.Vector) > 0 {
		// Cosine similarity is 1 - cosine distance (<=> operator); the
		// decay term mirrors TimeDecay exactly.
		rows, err = s.pool.Query(ctx, `
			SELECT id, agent_id, tenant_id, content, tags, security_level,
			       version, created_at, accessed_at, access_count, archived,
			       (1 - (embedding <=> $3::vector)) *
			       CASE
			           WHEN created_at >= now() THEN 1.0
			           ELSE exp(-0.693 * EXTRACT(EPOCH FROM (now() - created_at)) / 3600.0 / $4)
			       END AS score
			FROM memory_entries
			WHERE tenant_id = $1 AND agent_id = $2
			  AND embedding IS NOT NULL
			  AND ($5 OR NOT archived)
			  AND (cardinality($6::text[]) = 0 OR tags @> $6::text[])
			ORDER BY score DESC, created_at DESC
			LIMIT $7`,
			scope.TenantID, scope.AgentID, vectorLiteral(q.Vector),
			s.halfLifeHours, q.IncludeArchived, tagArray(q.Tags), limit,
		)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, agent_id, tenant_id, content, tags, security_level,
			       version, created_at, accessed_at, access_count, archived,
			       1.0 AS score
			FROM memory_entries
			WHERE tenant_id = $1 AND agent_id = $2
			  AND ($3 OR NOT archived)
			  AND (cardinality($4::text[]) = 0 OR tags @> $4::text[])
			ORDER BY created_at DESC
			LIMIT $5`,
			scope.TenantID, scope.AgentID, q.IncludeArchived, tagArray(q.Tags), limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("search memory entries: %w", err)
	}
	defer rows.Close()

	var results []ScoredEntry
	for rows.Next() {
		var (
			e     Entry
			level string
			score float64
		)
		if err := rows.Scan(&e.ID, &e.AgentID, &e.TenantID, &e.Content, &e.Tags,
			&level, &e.Version, &e.CreatedAt, &e.AccessedAt, &e.AccessCount,
			&e.Archived, &score); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		e.SecurityLevel = SecurityLevel(level)
		results = append(results, ScoredEntry{Entry: &e, Score: score})
	}
	return results, rows.Err()
}

func (s *PgVectorStore) GetRecent(ctx context.Context, scope Scope, hours float64, limit int) ([]*Entry, error) {
	if scope.Blank() {
		return nil, ErrBlankScope
	}
	if limit <= 0 {
		limit = 50
	}

	// Non-positive hours means an unlimited window.
	var cutoff time.Time
	if hours > 0 {
		cutoff = time.Now().UTC().Add(-time.Duration(hours * float64(time.Hour)))
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, agent_id, tenant_id, content, tags, security_level,
		       version, created_at, accessed_at, access_count, archived
		FROM memory_entries
		WHERE tenant_id = $1 AND agent_id = $2 AND NOT archived
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		ORDER BY created_at DESC
		LIMIT $4`,
		scope.TenantID, scope.AgentID, nullableTime(cutoff), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PgVectorStore) Archive(ctx context.Context, scope Scope, ids []string) (int, error) {
	if scope.Blank() {
		return 0, ErrBlankScope
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE memory_entries SET archived = TRUE
		WHERE tenant_id = $1 AND agent_id = $2 AND id = ANY($3) AND NOT archived`,
		scope.TenantID, scope.AgentID, ids,
	)
	if err != nil {
		return 0, fmt.Errorf("archive entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PgVectorStore) Delete(ctx context.Context, scope Scope, ids []string) (int, error) {
	if scope.Blank() {
		return 0, ErrBlankScope
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM memory_entries
		WHERE tenant_id = $1 AND agent_id = $2 AND id = ANY($3)`,
		scope.TenantID, scope.AgentID, ids,
	)
	if err != nil {
		return 0, fmt.Errorf("delete entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PgVectorStore) Count(ctx context.Context, scope Scope) (int, error) {
	if scope.Blank() {
		return 0, ErrBlankScope
	}
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM memory_entries
		WHERE tenant_id = $1 AND agent_id = $2 AND NOT archived`,
		scope.TenantID, scope.AgentID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

func (s *PgVectorStore) UpdateAccess(ctx context.Context, scope Scope, ids []string) error {
	if scope.Blank() {
		return ErrBlankScope
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE memory_entries
		SET access_count = access_count + 1, accessed_at = now()
		WHERE tenant_id = $1 AND agent_id = $2 AND id = ANY($3)`,
		scope.TenantID, scope.AgentID, ids,
	)
	if err != nil {
		return fmt.Errorf("update access: %w", err)
	}
	return nil
}

func (s *PgVectorStore) ListEntries(ctx context.Context, scope Scope, order ListOrder, limit int, includeArchived bool) ([]*Entry, error) {
	if scope.Blank() {
		return nil, ErrBlankScope
	}
	if limit <= 0 {
		limit = 50
	}

	orderBy := "created_at DESC"
	if order == OrderEvictionFirst {
		orderBy = "access_count ASC, created_at ASC"
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, agent_id, tenant_id, content, tags, security_level,
		       version, created_at, accessed_at, access_count, archived
		FROM memory_entries
		WHERE tenant_id = $1 AND agent_id = $2 AND ($3 OR NOT archived)
		ORDER BY %s
		LIMIT $4`, orderBy),
		scope.TenantID, scope.AgentID, includeArchived, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PgVectorStore) ExpiredEntryIDs(ctx context.Context, scope Scope, before time.Time, maxAccessCount int) ([]string, error) {
	if scope.Blank() {
		return nil, ErrBlankScope
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM memory_entries
		WHERE tenant_id = $1 AND agent_id = $2 AND NOT archived
		  AND created_at < $3 AND access_count <= $4
		ORDER BY id`,
		scope.TenantID, scope.AgentID, before.UTC(), maxAccessCount,
	)
	if err != nil {
		return nil, fmt.Errorf("query expired entries: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanEntries(rows pgx.Rows) ([]*Entry, error) {
	var results []*Entry
	for rows.Next() {
		var (
			e     Entry
			level string
		)
		if err := rows.Scan(&e.ID, &e.AgentID, &e.TenantID, &e.Content, &e.Tags,
			&level, &e.Version, &e.CreatedAt, &e.AccessedAt, &e.AccessCount,
			&e.Archived); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		e.SecurityLevel = SecurityLevel(level)
		results = append(results, &e)
	}
	return results, rows.Err()
}

// vectorLiteral renders a pgvector input literal: [1,2,3].
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func tagArray(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
