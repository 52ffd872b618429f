package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

func RunMigrations(dsn string, migrationsPath string) error {
	migrateDSN := dsn
	if strings.HasPrefix(migrateDSN, "postgresql://") {
		migrateDSN = "postgres://" + strings.TrimPrefix(migrateDSN, "postgresql://")
	}
	m, err := migrate.New("file://"+migrationsPath, migrateDSN)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

type Column struct {
	Name string
	Desc bool
}

func asc(name string) Column  { return Column{Name: name} }
func desc(name string) Column { return Column{Name: name, Desc: true} }

// Index describes an index the service relies on.
type Index struct {
	Name    string
	Table   string
	Columns []Column
	Unique  bool
}

// Schema lists the indexes ensured at startup.
type Schema struct {
	Indexes []Index
}

func NewSchema() Schema {
	return Schema{Indexes: []Index{
		{Name: "ux_position_events_operation_id", Table: "position_events", Columns: []Column{asc("operation_id")}, Unique: true},
		{Name: "ix_position_events_user_trade_at", Table: "position_events", Columns: []Column{asc("user_id"), desc("trade_at")}},
		{Name: "ix_position_events_stock_trade_at", Table: "position_events", Columns: []Column{asc("stock_id"), desc("trade_at")}},
		{Name: "ix_position_events_trade_at", Table: "position_events", Columns: []Column{desc("trade_at")}},
		{Name: "ux_portfolios_user_id", Table: "portfolios", Columns: []Column{asc("user_id")}, Unique: true},
	}}
}

type pgIndex struct {
	Name string `db:"indexname"`
	Def  string `db:"indexdef"`
}

// EnsureIndexes creates every index in s that no existing index on the
// same table already covers, and returns the names it created.
func EnsureIndexes(ctx context.Context, db *sqlx.DB, s Schema) ([]string, error) {
	var created []string
	existing := make(map[string][]pgIndex)
	for _, idx := range s.Indexes {
		defs, ok := existing[idx.Table]
		if !ok {
			if err := db.SelectContext(ctx, &defs,
				`SELECT indexname, indexdef FROM pg_indexes WHERE schemaname = current_schema() AND tablename = $1`,
				idx.Table); err != nil {
				return created, fmt.Errorf("list indexes on %s: %w", idx.Table, err)
			}
			existing[idx.Table] = defs
		}

		covered := false
		for _, d := range defs {
			if d.Name == idx.Name || indexCovers(d.Def, idx) {
				covered = true
				break
			}
		}
		if covered {
			continue
		}

		if _, err := db.ExecContext(ctx, createIndexSQL(idx)); err != nil {
			return created, fmt.Errorf("create index %s: %w", idx.Name, err)
		}
		created = append(created, idx.Name)
	}
	return created, nil
}

// indexCovers reports whether the pg_indexes definition def indexes
// exactly idx's columns, in order, with at least idx's uniqueness. Sort
// direction is ignored since a btree can be scanned either way.
func indexCovers(def string, idx Index) bool {
	if idx.Unique && !strings.Contains(strings.ToUpper(def), "UNIQUE") {
		return false
	}
	open, end := strings.LastIndex(def, "("), strings.LastIndex(def, ")")
	if open < 0 || end < open {
		return false
	}
	cols := strings.Split(def[open+1:end], ",")
	if len(cols) != len(idx.Columns) {
		return false
	}
	for i, c := range cols {
		fields := strings.Fields(c)
		if len(fields) == 0 || strings.Trim(fields[0], `"`) != idx.Columns[i].Name {
			return false
		}
	}
	return true
}

func createIndexSQL(idx Index) string {
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = pq.QuoteIdentifier(c.Name)
		if c.Desc {
			cols[i] += " DESC"
		}
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique, pq.QuoteIdentifier(idx.Name), pq.QuoteIdentifier(idx.Table), strings.Join(cols, ", "))
}

func isUniqueViolation(err error) bool {
	return hasCode(err, uniqueViolation)
}

func isForeignKeyViolation(err error) bool {
	return hasCode(err, foreignKeyViolation)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
