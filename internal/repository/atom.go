package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/surpriz/queenmama/internal/domain"
	"github.com/surpriz/queenmama/internal/pagination"
	"github.com/surpriz/queenmama/internal/service"
)

// dbtx is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const atomColumns = `id, user_id, type, content, embedding, usage_count, helpful_count, last_used_at, created_at, source_session_id, context, confidence, source`

type AtomRepository struct {
	db dbtx
}

func NewAtomRepository(pool *pgxpool.Pool) *AtomRepository {
	return &AtomRepository{db: pool}
}

func NewAtomRepositoryWithTx(tx pgx.Tx) *AtomRepository {
	return &AtomRepository{db: tx}
}

func (r *AtomRepository) Create(ctx context.Context, a *domain.KnowledgeAtom) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO knowledge_atoms (`+atomColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.UserID, a.Type, a.Content, pgvector.NewVector(a.Embedding),
		a.UsageCount, a.HelpfulCount, a.LastUsedAt, a.CreatedAt,
		nullableString(a.SourceSessionID), nullableString(a.Metadata.Context),
		a.Metadata.Confidence, a.Metadata.Source,
	)
	return err
}

func (r *AtomRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeAtom, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+atomColumns+` FROM knowledge_atoms WHERE id = $1`,
		id,
	)
	a, err := scanAtom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAtomNotFound
		}
		return nil, err
	}
	return a, nil
}

func (r *AtomRepository) ListByUser(ctx context.Context, userID string) ([]*domain.KnowledgeAtom, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+atomColumns+` FROM knowledge_atoms WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAtomRows(rows)
}

func (r *AtomRepository) ListByUserAndType(ctx context.Context, userID string, atomType domain.AtomType) ([]*domain.KnowledgeAtom, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+atomColumns+` FROM knowledge_atoms WHERE user_id = $1 AND type = $2 ORDER BY created_at DESC, id DESC`,
		userID, atomType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAtomRows(rows)
}

func (r *AtomRepository) ListByUserWithCursor(ctx context.Context, userID string, cursor *pagination.Cursor, limit int) (*service.AtomPageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+atomColumns+` FROM knowledge_atoms
			 WHERE user_id = $1 AND (created_at, id) < ($2, $3)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $4`,
			userID, cursor.CreatedAt, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+atomColumns+` FROM knowledge_atoms
			 WHERE user_id = $1
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`,
			userID, limit+1,
		)
	}

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanAtomRows(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		lastItem := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(lastItem.ID, lastItem.CreatedAt)
	}

	return &service.AtomPageResult{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func (r *AtomRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM knowledge_atoms WHERE user_id = $1`,
		userID,
	).Scan(&count)
	return count, err
}

func (r *AtomRepository) CountByUserPerType(ctx context.Context, userID string) (map[domain.AtomType]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT type, COUNT(*) FROM knowledge_atoms WHERE user_id = $1 GROUP BY type`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.AtomType]int)
	for rows.Next() {
		var atomType domain.AtomType
		var count int
		if err := rows.Scan(&atomType, &count); err != nil {
			return nil, err
		}
		counts[atomType] = count
	}
	return counts, rows.Err()
}

func (r *AtomRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM knowledge_atoms WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrAtomNotFound
	}
	return nil
}

func (r *AtomRepository) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM knowledge_atoms WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, err
	}
	return int(cmdTag.RowsAffected()), nil
}

func (r *AtomRepository) UpdateCounters(ctx context.Context, id string, usageCount, helpfulCount int, lastUsedAt *time.Time) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE knowledge_atoms SET usage_count = $1, helpful_count = $2, last_used_at = $3 WHERE id = $4`,
		usageCount, helpfulCount, lastUsedAt, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrAtomNotFound
	}
	return nil
}

func (r *AtomRepository) RecordUsage(ctx context.Context, id string, helpful bool, usedAt time.Time) error {
	helpfulIncrement := 0
	if helpful {
		helpfulIncrement = 1
	}
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE knowledge_atoms
		 SET usage_count = usage_count + 1, helpful_count = helpful_count + $1, last_used_at = $2
		 WHERE id = $3`,
		helpfulIncrement, usedAt, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrAtomNotFound
	}
	return nil
}

func (r *AtomRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT user_id FROM knowledge_atoms ORDER BY user_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}

func scanAtom(row pgx.Row) (*domain.KnowledgeAtom, error) {
	var a domain.KnowledgeAtom
	var embedding pgvector.Vector
	var sessionID, atomContext *string
	err := row.Scan(&a.ID, &a.UserID, &a.Type, &a.Content, &embedding,
		&a.UsageCount, &a.HelpfulCount, &a.LastUsedAt, &a.CreatedAt,
		&sessionID, &atomContext, &a.Metadata.Confidence, &a.Metadata.Source)
	if err != nil {
		return nil, err
	}
	a.Embedding = embedding.Slice()
	if sessionID != nil {
		a.SourceSessionID = *sessionID
	}
	if atomContext != nil {
		a.Metadata.Context = *atomContext
	}
	return &a, nil
}

func scanAtomRows(rows pgx.Rows) ([]*domain.KnowledgeAtom, error) {
	var results []*domain.KnowledgeAtom
	for rows.Next() {
		a, err := scanAtom(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
