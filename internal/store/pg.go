package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	"github.com/oklog/ulid/v2"
)

// PG — документное хранилище поверх Postgres: одна таблица documents,
// сами документы лежат в jsonb. Фильтры транслируются в SQL.
type PG struct {
	db      *sql.DB
	entropy io.Reader
}

// Open открывает пул соединений и проверяет связь.
func Open(url string) (*PG, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &PG{db: db, entropy: ulid.Monotonic(src, 0)}, nil
}

func (p *PG) Close() error { return p.db.Close() }

// Migrate применяет idempotent DDL (create ... if not exists).
// duplicate_object (42710) игнорируем — значит уже накатано.
func (p *PG) Migrate(ctx context.Context) error {
	ddl := []string{
		`create table if not exists documents (
  collection text not null,
  id text not null,
  data jsonb not null,
  primary key (collection, id)
);`,
		`create index if not exists documents_data_gin on documents using gin (data);`,
	}
	for _, stmt := range ddl {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "42710" {
				log.Printf("DDL skipped (already exists): %s", strings.TrimSpace(pgErr.Message))
				continue
			}
			e := strings.ToLower(err.Error())
			if strings.Contains(e, "already exists") || strings.Contains(e, "duplicate") {
				log.Printf("DDL skipped (already exists): %v", err)
				continue
			}
			return fmt.Errorf("DDL apply failed: %w", err)
		}
	}
	return nil
}

func (p *PG) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), p.entropy).String()
}

func (p *PG) Create(ctx context.Context, collection string, doc Doc) (Doc, error) {
	stored := cloneDoc(doc)
	id, _ := stored[IDField].(string)
	if id == "" {
		id = p.newID()
		stored[IDField] = id
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, err
	}
	_, err = p.db.ExecContext(ctx,
		`insert into documents (collection, id, data) values ($1, $2, $3)`,
		collection, id, raw)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (p *PG) Update(ctx context.Context, collection string, filter Filter, patch Doc) (int64, error) {
	patch = cloneDoc(patch)
	delete(patch, IDField) // id не перетираем
	raw, err := json.Marshal(patch)
	if err != nil {
		return 0, err
	}
	where, args := buildWhere(filter, 3)
	q := `update documents set data = data || $2::jsonb where collection = $1` + where
	res, err := p.db.ExecContext(ctx, q, append([]any{collection, raw}, args...)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *PG) Delete(ctx context.Context, collection string, filter Filter) (int64, error) {
	where, args := buildWhere(filter, 2)
	q := `delete from documents where collection = $1` + where
	res, err := p.db.ExecContext(ctx, q, append([]any{collection}, args...)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *PG) Find(ctx context.Context, collection string, filter Filter, fields []string) ([]Doc, error) {
	return p.query(ctx, collection, filter, fields, nil, 0, 0)
}

func (p *PG) FindOne(ctx context.Context, collection string, filter Filter, fields []string) (Doc, error) {
	docs, err := p.query(ctx, collection, filter, fields, nil, 0, 1)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func (p *PG) FindSort(ctx context.Context, collection string, filter Filter, fields []string, keys []SortKey) ([]Doc, error) {
	return p.query(ctx, collection, filter, fields, keys, 0, 0)
}

func (p *PG) FindPage(ctx context.Context, collection string, filter Filter, fields []string, keys []SortKey, offset, limit int) ([]Doc, error) {
	return p.query(ctx, collection, filter, fields, keys, offset, limit)
}

func (p *PG) query(ctx context.Context, collection string, filter Filter, fields []string, keys []SortKey, offset, limit int) ([]Doc, error) {
	where, args := buildWhere(filter, 2)
	var sb strings.Builder
	sb.WriteString(`select data from documents where collection = $1`)
	sb.WriteString(where)

	if len(keys) > 0 {
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if k.Field == "" {
				continue
			}
			dir := "asc"
			if k.Desc {
				dir = "desc"
			}
			// null'ы всегда в конец, как в memory-хранилище
			parts = append(parts, fmt.Sprintf("data->%s is null, data->%s %s", quoteLit(k.Field), quoteLit(k.Field), dir))
		}
		if len(parts) > 0 {
			sb.WriteString(" order by " + strings.Join(parts, ", "))
		}
	}
	if limit > 0 {
		fmt.Fprintf(&sb, " limit %d", limit)
	}
	if offset > 0 {
		fmt.Fprintf(&sb, " offset %d", offset)
	}

	rows, err := p.db.QueryContext(ctx, sb.String(), append([]any{collection}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Doc
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var doc Doc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		out = append(out, project(doc, fields))
	}
	return out, rows.Err()
}

func (p *PG) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	where, args := buildWhere(filter, 2)
	q := `select count(*) from documents where collection = $1` + where
	var n int64
	err := p.db.QueryRowContext(ctx, q, append([]any{collection}, args...)...).Scan(&n)
	return n, err
}

func (p *PG) Sum(ctx context.Context, collection string, filter Filter, field string) (float64, error) {
	where, args := buildWhere(filter, 2)
	q := fmt.Sprintf(
		`select coalesce(sum((data->>%s)::numeric), 0) from documents where collection = $1 and jsonb_typeof(data->%s) = 'number'`,
		quoteLit(field), quoteLit(field)) + where
	var sum float64
	err := p.db.QueryRowContext(ctx, q, append([]any{collection}, args...)...).Scan(&sum)
	return sum, err
}

func (p *PG) Push(ctx context.Context, collection string, filter Filter, field string, element any) error {
	raw, err := json.Marshal(element)
	if err != nil {
		return err
	}
	where, args := buildWhere(filter, 3)
	q := fmt.Sprintf(
		`update documents set data = jsonb_set(data, '{%s}', coalesce(data->%s, '[]'::jsonb) || $2::jsonb) where collection = $1`,
		field, quoteLit(field)) + where
	_, err = p.db.ExecContext(ctx, q, append([]any{collection, raw}, args...)...)
	return err
}

func (p *PG) Pull(ctx context.Context, collection string, filter Filter, field string, element any) error {
	raw, err := json.Marshal(element)
	if err != nil {
		return err
	}
	where, args := buildWhere(filter, 3)
	q := fmt.Sprintf(
		`update documents set data = jsonb_set(data, '{%s}',
  (select coalesce(jsonb_agg(x), '[]'::jsonb)
     from jsonb_array_elements(coalesce(data->%s, '[]'::jsonb)) x
    where x <> $2::jsonb))
 where collection = $1`, field, quoteLit(field)) + where
	_, err = p.db.ExecContext(ctx, q, append([]any{collection, raw}, args...)...)
	return err
}

func (p *PG) AddToSet(ctx context.Context, collection string, filter Filter, field string, element any) error {
	raw, err := json.Marshal(element)
	if err != nil {
		return err
	}
	one, err := json.Marshal([]any{element})
	if err != nil {
		return err
	}
	where, args := buildWhere(filter, 4)
	q := fmt.Sprintf(
		`update documents set data = jsonb_set(data, '{%s}', coalesce(data->%s, '[]'::jsonb) || $2::jsonb)
 where collection = $1 and not coalesce(data->%s, '[]'::jsonb) @> $3::jsonb`,
		field, quoteLit(field), quoteLit(field)) + where
	_, err = p.db.ExecContext(ctx, q, append([]any{collection, raw, one}, args...)...)
	return err
}

// ==== трансляция фильтров в SQL ====

// buildWhere собирает " and (...)" по фильтру. next — номер первого свободного $-плейсхолдера.
func buildWhere(filter Filter, next int) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}
	cond, args := filterSQL(filter, &next)
	if cond == "" {
		return "", nil
	}
	return " and " + cond, args
}

func filterSQL(filter Filter, next *int) (string, []any) {
	var conds []string
	var args []any

	addArg := func(v any) string {
		args = append(args, v)
		ph := fmt.Sprintf("$%d", *next)
		*next++
		return ph
	}
	addJSON := func(v any) string {
		raw, _ := json.Marshal(v)
		return addArg(raw) + "::jsonb"
	}

	for key, want := range filter {
		if key == "$or" {
			var alts []Filter
			switch t := want.(type) {
			case []Filter:
				alts = t
			case []any:
				for _, r := range t {
					if f, ok := r.(map[string]any); ok {
						alts = append(alts, f)
					}
				}
			}
			var sub []string
			for _, alt := range alts {
				c, a := filterSQL(alt, next)
				if c != "" {
					sub = append(sub, c)
					args = append(args, a...)
				}
			}
			if len(sub) > 0 {
				conds = append(conds, "("+strings.Join(sub, " or ")+")")
			}
			continue
		}

		col := "data->" + quoteLit(key)
		txt := "data->>" + quoteLit(key)

		ops, isOps := want.(map[string]any)
		if !isOps || !hasOpKey(ops) {
			conds = append(conds, col+" = "+addJSON(want))
			continue
		}

		for op, arg := range ops {
			switch op {
			case "$in":
				ph := addJSON(asSlice(arg))
				conds = append(conds, fmt.Sprintf(
					`exists (select 1 from jsonb_array_elements(%s) a(v) where a.v = %s or (jsonb_typeof(%s) = 'array' and %s @> jsonb_build_array(a.v)))`,
					ph, col, col, col))
			case "$nin":
				ph := addJSON(asSlice(arg))
				conds = append(conds, fmt.Sprintf(
					`not exists (select 1 from jsonb_array_elements(%s) a(v) where a.v = %s or (jsonb_typeof(%s) = 'array' and %s @> jsonb_build_array(a.v)))`,
					ph, col, col, col))
			case "$all":
				conds = append(conds, col+" @> "+addJSON(asSlice(arg)))
			case "$ne":
				ph := addJSON(arg)
				conds = append(conds, fmt.Sprintf("(not data ? %s or %s <> %s)", quoteLit(key), col, ph))
			case "$regex":
				pat, _ := arg.(string)
				rop := "~"
				if strings.HasPrefix(pat, "(?i)") {
					rop = "~*"
					pat = strings.TrimPrefix(pat, "(?i)")
				}
				conds = append(conds, txt+" "+rop+" "+addArg(pat))
			case "$gt", "$gte", "$lt", "$lte":
				sqlOp := map[string]string{"$gt": ">", "$gte": ">=", "$lt": "<", "$lte": "<="}[op]
				if f, ok := asFloat(arg); ok {
					ph := addArg(f)
					conds = append(conds, fmt.Sprintf("(jsonb_typeof(%s) = 'number' and (%s)::numeric %s %s)", col, txt, sqlOp, ph))
				} else {
					conds = append(conds, txt+" "+sqlOp+" "+addArg(stringify(arg)))
				}
			}
		}
	}
	if len(conds) == 0 {
		return "", args
	}
	return "(" + strings.Join(conds, " and ") + ")", args
}

// quoteLit — строковый литерал для имени поля внутри выражений data->'f'.
// Имена полей приходят из валидированных схем, но кавычки на всякий случай дублируем.
func quoteLit(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
