package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq" // PostgreSQL
)

// Table is the ledger table name.
const Table = "opbulk_grants"

var driverNames = map[string]string{
	BackendPostgres: "postgres",
	BackendMySQL:    "mysql",
}

// SQLStore keeps entries in a PostgreSQL or MySQL table.
type SQLStore struct {
	db      *sql.DB
	dialect string
	stbl    sq.StatementBuilderType
}

// OpenSQL connects to dsn with the driver for dialect and creates the table
// if it does not exist.
func OpenSQL(ctx context.Context, dialect, dsn string) (*SQLStore, error) {
	driver, ok := driverNames[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported SQL dialect: %s", dialect)
	}

	dsn, err := driverDSN(dialect, dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := NewSQLStore(db, dialect)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return store, nil
}

// driverDSN forces TIMESTAMP columns to scan as time.Time on MySQL.
func driverDSN(dialect, dsn string) (string, error) {
	if dialect != BackendMySQL {
		return dsn, nil
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// NewSQLStore wraps an open database. PostgreSQL gets $n placeholders.
func NewSQLStore(db *sql.DB, dialect string) *SQLStore {
	stbl := sq.StatementBuilder.RunWith(db)
	if dialect == BackendPostgres {
		stbl = stbl.PlaceholderFormat(sq.Dollar)
	}
	return &SQLStore{db: db, dialect: dialect, stbl: stbl}
}

// EnsureSchema creates the ledger table.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + Table + ` (
	id VARCHAR(36) PRIMARY KEY,
	vault_id VARCHAR(64) NOT NULL,
	group_name VARCHAR(255) NOT NULL,
	permission VARCHAR(64) NOT NULL,
	run_id VARCHAR(36) NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	revoked_at TIMESTAMP NULL
)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create ledger table: %w", err)
	}
	return nil
}

// Record inserts e.
func (s *SQLStore) Record(ctx context.Context, e Entry) (Entry, error) {
	e = prepare(e)
	_, err := s.stbl.
		Insert(Table).
		Columns("id", "vault_id", "group_name", "permission", "run_id", "created_at").
		Values(e.ID, e.VaultID, e.Group, e.Permission, e.RunID, e.CreatedAt).
		ExecContext(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to record grant: %w", err)
	}
	return e, nil
}

// Outstanding returns unrevoked entries, oldest first.
func (s *SQLStore) Outstanding(ctx context.Context) ([]Entry, error) {
	rows, err := s.stbl.
		Select("id", "vault_id", "group_name", "permission", "run_id", "created_at").
		From(Table).
		Where(sq.Eq{"revoked_at": nil}).
		OrderBy("created_at").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			created timestampColumn
		)
		if err := rows.Scan(&e.ID, &e.VaultID, &e.Group, &e.Permission, &e.RunID, &created); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		e.CreatedAt = created.Time
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	return out, nil
}

// MarkRevoked closes matching outstanding entries.
func (s *SQLStore) MarkRevoked(ctx context.Context, vaultID, group, permission string, at time.Time) (int, error) {
	res, err := s.stbl.
		Update(Table).
		Set("revoked_at", at.UTC()).
		Where(sq.Eq{"vault_id": vaultID}).
		Where(sq.Eq{"group_name": group}).
		Where(sq.Eq{"permission": permission}).
		Where(sq.Eq{"revoked_at": nil}).
		ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to mark grant revoked: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to mark grant revoked: %w", err)
	}
	return int(n), nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// timestampColumn scans a TIMESTAMP delivered either as time.Time or as the
// driver's text form.
type timestampColumn struct {
	time.Time
}

func (c *timestampColumn) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		c.Time = v
		return nil
	case []byte:
		return c.parse(string(v))
	case string:
		return c.parse(v)
	case nil:
		c.Time = time.Time{}
		return nil
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (c *timestampColumn) parse(s string) error {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			c.Time = t
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}
