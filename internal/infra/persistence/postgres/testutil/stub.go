// Package testutil provides an in-memory database/sql driver that speaks the
// statements issued by the postgres store and enforces the keys of the board
// schema, so insert ordering and uniqueness bugs surface without a server.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

var driverSeq atomic.Int64

// Row is one stored tuple keyed by lower-case column name.
type Row map[string]any

// Tables maps a table name to its rows in insertion order.
type Tables map[string][]Row

type tableKeys struct {
	unique []string
	refs   map[string]string
}

// keys mirrors the constraints declared by the postgres schema. Model and
// firefighter cross references carry no foreign key there either.
var keys = map[string]tableKeys{
	"pressure_models": {unique: []string{"id"}},
	"firefighters":    {unique: []string{"id", "badge_number"}},
	"ba_entries": {
		unique: []string{"id"},
		refs: map[string]string{
			"firefighter_id":       "firefighters",
			"calculation_model_id": "pressure_models",
		},
	},
	"historical_ba_entries": {
		unique: []string{"id", "entry_id"},
		refs: map[string]string{
			"entry_id":             "ba_entries",
			"firefighter_id":       "firefighters",
			"calculation_model_id": "pressure_models",
		},
	},
}

// ErrForeignKey and ErrUniqueViolation classify rejected inserts.
var (
	ErrForeignKey      = errors.New("violates foreign key constraint")
	ErrUniqueViolation = errors.New("duplicate key value violates unique constraint")
)

// Conn is a single shared connection. Writes issued inside a transaction are
// staged and only become visible on Commit.
type Conn struct {
	mu sync.Mutex

	Statements []string
	Tables     Tables
	Created    map[string]bool

	FailPing   bool
	FailBegin  bool
	FailCommit bool
	FailTables map[string]bool
	RowsErr    error

	staged Tables
}

// NewDB registers a fresh driver instance and returns a sql.DB bound to it.
func NewDB() (*sql.DB, *Conn) {
	conn := &Conn{Tables: Tables{}, Created: map[string]bool{}}
	name := fmt.Sprintf("boardpg%d", driverSeq.Add(1))
	sql.Register(name, &boardDriver{conn: conn})
	db, err := sql.Open(name, "board")
	if err != nil {
		panic(err)
	}
	db.SetMaxOpenConns(1)
	return db, conn
}

type boardDriver struct {
	conn *Conn
}

func (d *boardDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn. Only direct Exec and Query are supported.
func (c *Conn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepared statements are not supported")
}

// Close implements driver.Conn.
func (c *Conn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *Conn) Ping(context.Context) error {
	if c.FailPing {
		return errors.New("connection refused")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *Conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailBegin {
		return nil, errors.New("begin refused")
	}
	if c.staged != nil {
		return nil, errors.New("transaction already in progress")
	}
	c.staged = c.Tables.clone()
	return &boardTx{conn: c}, nil
}

// Rows returns the committed rows of table.
func (c *Conn) Rows(table string) []Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Row(nil), c.Tables[table]...)
}

// ExecContext implements driver.ExecerContext.
func (c *Conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statements = append(c.Statements, query)
	stmt := strings.TrimSpace(query)
	upper := strings.ToUpper(stmt)
	switch {
	case strings.HasPrefix(upper, "CREATE TABLE"):
		c.Created[createdName(stmt, "TABLE")] = true
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(upper, "CREATE INDEX"):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(upper, "TRUNCATE TABLE"):
		names := splitList(stmt[len("TRUNCATE TABLE"):])
		target := c.target()
		for _, name := range names {
			delete(target, name)
		}
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(upper, "INSERT INTO"):
		return c.insert(stmt, args)
	default:
		return nil, fmt.Errorf("unsupported statement: %s", stmt)
	}
}

func (c *Conn) target() Tables {
	if c.staged != nil {
		return c.staged
	}
	return c.Tables
}

func (c *Conn) insert(stmt string, args []driver.NamedValue) (driver.Result, error) {
	table, cols, err := parseInsert(stmt)
	if err != nil {
		return nil, err
	}
	if !c.Created[table] {
		return nil, fmt.Errorf("relation %q does not exist", table)
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("insert into %s refused", table)
	}
	if len(cols) != len(args) {
		return nil, fmt.Errorf("%s: %d columns but %d values", table, len(cols), len(args))
	}
	row := make(Row, len(cols))
	for i, col := range cols {
		row[col] = args[i].Value
	}
	target := c.target()
	k := keys[table]
	for _, col := range k.unique {
		v := row[col]
		if v == nil {
			continue
		}
		for _, existing := range target[table] {
			if existing[col] == v {
				return nil, fmt.Errorf("%w %q: %s=%v", ErrUniqueViolation, table+"_"+col+"_key", col, v)
			}
		}
	}
	for col, parent := range k.refs {
		v := row[col]
		if v == nil {
			continue
		}
		if !hasID(target[parent], v) {
			return nil, fmt.Errorf("insert on %q %w: %s=%v not present in %q", table, ErrForeignKey, col, v, parent)
		}
	}
	target[table] = append(target[table], row)
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext for "SELECT cols FROM table".
func (c *Conn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	table, cols, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("select from %s refused", table)
	}
	if !c.Created[table] {
		return nil, fmt.Errorf("relation %q does not exist", table)
	}
	stored := c.target()[table]
	values := make([][]driver.Value, 0, len(stored))
	for _, row := range stored {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &boardRows{cols: cols, rows: values, err: c.RowsErr}, nil
}

type boardTx struct {
	conn *Conn
}

func (t *boardTx) Commit() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	staged := t.conn.staged
	t.conn.staged = nil
	if t.conn.FailCommit {
		return errors.New("commit refused")
	}
	t.conn.Tables = staged
	return nil
}

func (t *boardTx) Rollback() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.staged = nil
	return nil
}

type boardRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *boardRows) Columns() []string { return r.cols }
func (r *boardRows) Close() error      { return nil }

func (r *boardRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func (t Tables) clone() Tables {
	out := make(Tables, len(t))
	for name, rows := range t {
		out[name] = append([]Row(nil), rows...)
	}
	return out
}

func hasID(rows []Row, id any) bool {
	for _, row := range rows {
		if row["id"] == id {
			return true
		}
	}
	return false
}

func createdName(stmt, kind string) string {
	rest := strings.TrimSpace(stmt[len("CREATE "+kind):])
	if strings.HasPrefix(strings.ToUpper(rest), "IF NOT EXISTS") {
		rest = strings.TrimSpace(rest[len("IF NOT EXISTS"):])
	}
	if i := strings.IndexAny(rest, " (\n\t"); i >= 0 {
		rest = rest[:i]
	}
	return strings.ToLower(rest)
}

func parseInsert(stmt string) (string, []string, error) {
	rest := strings.TrimSpace(stmt[len("INSERT INTO"):])
	open := strings.Index(rest, "(")
	closing := strings.Index(rest, ")")
	if open <= 0 || closing <= open {
		return "", nil, fmt.Errorf("cannot parse insert: %s", stmt)
	}
	return strings.ToLower(strings.TrimSpace(rest[:open])), splitList(rest[open+1 : closing]), nil
}

func parseSelect(query string) (string, []string, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	from := strings.Index(lower, " from ")
	if !strings.HasPrefix(lower, "select ") || from == -1 {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	fields := strings.Fields(lower[from+len(" from "):])
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	return fields[0], splitList(lower[len("select "):from]), nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
