package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/csaude/comvida/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type recordRepoPG struct{ pool *pgxpool.Pool }

// NewPGRepo stores records in the records table created by the embedded
// migrations.
func NewPGRepo(pool *pgxpool.Pool) Repository {
	return &recordRepoPG{pool: pool}
}

func (r *recordRepoPG) Pool() *pgxpool.Pool { return r.pool }

func (r *recordRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const recordCols = `id, uuid::text, resource, COALESCE(natural_key, ''), COALESCE(secret, ''),
	doc, created_at, updated_at`

const uniqueViolation = "23505"

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var raw []byte
	if err := row.Scan(&rec.ID, &rec.UUID, &rec.Resource, &rec.Key, &rec.Secret,
		&raw, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &rec.Doc); err != nil {
		return nil, fmt.Errorf("decode record %d: %w", rec.ID, err)
	}
	return &rec, nil
}

func (r *recordRepoPG) Create(ctx context.Context, rec *Record) error {
	doc, err := json.Marshal(rec.Doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO records (uuid, resource, natural_key, secret, doc)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)
		RETURNING id, created_at, updated_at`,
		rec.UUID, rec.Resource, rec.Key, rec.Secret, doc,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	return mapErr(err)
}

func (r *recordRepoPG) Get(ctx context.Context, resource string, id int64) (*Record, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM records WHERE id = $1 AND resource = $2`, id, resource))
	return rec, mapErr(err)
}

func (r *recordRepoPG) GetByUUID(ctx context.Context, resource, uuid string) (*Record, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM records WHERE uuid::text = $1 AND resource = $2`, uuid, resource))
	return rec, mapErr(err)
}

// Update locks the row first so a missing record is told apart from a
// key clash.
func (r *recordRepoPG) Update(ctx context.Context, rec *Record) error {
	doc, err := json.Marshal(rec.Doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		if err := q.QueryRow(ctx,
			`SELECT uuid::text, created_at FROM records WHERE id = $1 AND resource = $2 FOR UPDATE`,
			rec.ID, rec.Resource,
		).Scan(&rec.UUID, &rec.CreatedAt); err != nil {
			return mapErr(err)
		}
		err := q.QueryRow(ctx, `
			UPDATE records SET natural_key = NULLIF($2, ''), secret = NULLIF($3, ''), doc = $4, updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at`,
			rec.ID, rec.Key, rec.Secret, doc,
		).Scan(&rec.UpdatedAt)
		return mapErr(err)
	})
}

func (r *recordRepoPG) Delete(ctx context.Context, resource, uuid string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM records WHERE uuid::text = $1 AND resource = $2`, uuid, resource)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *recordRepoPG) List(ctx context.Context, resource string, f Filter) ([]*Record, int, error) {
	q := buildListQuery(resource, f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.countSQL(), q.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL, dataArgs := q.dataSQL(f.Limit, f.Offset)
	rows, err := r.conn(ctx).Query(ctx, dataSQL, dataArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}

func (r *recordRepoPG) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// -- Query building --

type listQuery struct {
	where    []string
	args     []interface{}
	sortPath []string
	sortDesc bool
}

func (q *listQuery) arg(v interface{}) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

func buildListQuery(resource string, f Filter) *listQuery {
	q := &listQuery{sortPath: f.SortPath, sortDesc: f.SortDesc}
	q.where = append(q.where, "resource = "+q.arg(resource))

	if s := strings.TrimSpace(f.Search); s != "" {
		q.where = append(q.where, fmt.Sprintf(`lower(COALESCE(doc #>> %s, '')) LIKE %s`,
			q.arg(f.SearchPath), q.arg("%"+escapeLike(strings.ToLower(s))+"%")))
	}

	for _, fm := range f.Fields {
		var ors []string
		for _, p := range fm.Paths {
			switch {
			case len(p) == 1 && p[0] == "id":
				ors = append(ors, "id::text = "+q.arg(fm.Value))
			case len(p) == 1 && p[0] == "uuid":
				ors = append(ors, "uuid::text = "+q.arg(fm.Value))
			default:
				ors = append(ors, fmt.Sprintf("doc #>> %s = %s", q.arg(p), q.arg(fm.Value)))
			}
		}
		if len(ors) > 0 {
			q.where = append(q.where, "("+strings.Join(ors, " OR ")+")")
		}
	}
	return q
}

func (q *listQuery) whereSQL() string {
	return strings.Join(q.where, " AND ")
}

func (q *listQuery) countSQL() string {
	return "SELECT COUNT(*) FROM records WHERE " + q.whereSQL()
}

// dataSQL adds ordering and paging on top of the filter arguments, which
// the count query shares.
func (q *listQuery) dataSQL(limit, offset int) (string, []interface{}) {
	args := append([]interface{}(nil), q.args...)
	next := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	dir := "ASC"
	if q.sortDesc {
		dir = "DESC"
	}
	orderBy := "id " + dir
	if len(q.sortPath) > 0 {
		orderBy = fmt.Sprintf("lower(doc #>> %s) %s NULLS LAST, id ASC", next(q.sortPath), dir)
	}

	sql := "SELECT " + recordCols + " FROM records WHERE " + q.whereSQL() + " ORDER BY " + orderBy
	if limit > 0 {
		sql += " LIMIT " + next(limit)
	}
	if offset > 0 {
		sql += " OFFSET " + next(offset)
	}
	return sql, args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
