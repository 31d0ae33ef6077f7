package store

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/richard-senior/kicktipp/internal/logger"
	_ "modernc.org/sqlite"
)

// Persistable is a record that maps onto one table through struct tags:
// `column` names the column, `dbtype` its SQL type (fields without one are
// not stored), `primary:"true"` marks primary key columns and `index:"true"`
// requests an index.
type Persistable interface {
	GetTableName() string
	GetPrimaryKey() map[string]any
	BeforeSave() error
}

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// column is one persisted struct field
type column struct {
	name    string
	dbType  string
	primary bool
	index   bool
	field   int
}

func columnsOf(obj any) []column {
	t := reflect.TypeOf(obj)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	var cols []column
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		// Skip unexported fields
		if !f.IsExported() {
			continue
		}
		dbType := f.Tag.Get("dbtype")
		if dbType == "" || f.Tag.Get("db") == "-" {
			continue
		}
		name := f.Tag.Get("column")
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		cols = append(cols, column{
			name:    name,
			dbType:  dbType,
			primary: f.Tag.Get("primary") == "true",
			index:   f.Tag.Get("index") == "true",
			field:   i,
		})
	}
	return cols
}

func valueOf(obj any) reflect.Value {
	v := reflect.ValueOf(obj)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	return v
}

// createTableSQL generates CREATE TABLE from struct tags, with a compound
// primary key when more than one field is marked primary
func createTableSQL(obj Persistable) string {
	var defs, pks []string
	for _, c := range columnsOf(obj) {
		defs = append(defs, fmt.Sprintf("%s %s", c.name, c.dbType))
		if c.primary {
			pks = append(pks, c.name)
		}
	}
	if len(pks) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", obj.GetTableName(), strings.Join(defs, ", "))
}

func indexSQL(obj Persistable) []string {
	table := obj.GetTableName()
	var out []string
	for _, c := range columnsOf(obj) {
		if c.index {
			out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)", table, c.name, table, c.name))
		}
	}
	return out
}

// buildWhereClause builds a WHERE clause from a primary key map, columns in
// name order so the generated SQL is stable
func buildWhereClause(primaryKey map[string]any) (string, []any) {
	keys := make([]string, 0, len(primaryKey))
	for k := range primaryKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	conditions := make([]string, 0, len(keys))
	values := make([]any, 0, len(keys))
	for _, k := range keys {
		conditions = append(conditions, fmt.Sprintf("%s = ?", k))
		values = append(values, primaryKey[k])
	}
	return strings.Join(conditions, " AND "), values
}

func createTable(ctx context.Context, db execer, obj Persistable) error {
	q := createTableSQL(obj)
	logger.Debug("Creating table with SQL", q)
	if _, err := db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("failed to create table %s: %w", obj.GetTableName(), err)
	}
	for _, q := range indexSQL(obj) {
		if _, err := db.ExecContext(ctx, q); err != nil {
			logger.Warn("Failed to create index", err)
		}
	}
	return nil
}

func exists(ctx context.Context, db execer, obj Persistable) (bool, error) {
	where, values := buildWhereClause(obj.GetPrimaryKey())
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", obj.GetTableName(), where)
	var count int
	if err := db.QueryRowContext(ctx, q, values...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check existence in %s: %w", obj.GetTableName(), err)
	}
	return count > 0, nil
}

// save inserts obj or updates the row holding its primary key
func save(ctx context.Context, db execer, obj Persistable) error {
	if err := obj.BeforeSave(); err != nil {
		return fmt.Errorf("before save hook failed: %w", err)
	}
	found, err := exists(ctx, db, obj)
	if err != nil {
		return err
	}

	table := obj.GetTableName()
	v := valueOf(obj)
	var q string
	var args []any
	if found {
		var set []string
		for _, c := range columnsOf(obj) {
			// Skip primary key fields in updates
			if c.primary {
				continue
			}
			set = append(set, c.name+" = ?")
			args = append(args, v.Field(c.field).Interface())
		}
		where, wv := buildWhereClause(obj.GetPrimaryKey())
		args = append(args, wv...)
		q = fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(set, ", "), where)
	} else {
		var names, marks []string
		for _, c := range columnsOf(obj) {
			names = append(names, c.name)
			marks = append(marks, "?")
			args = append(args, v.Field(c.field).Interface())
		}
		q = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(names, ", "), strings.Join(marks, ", "))
	}
	logger.Debug("Save SQL", q)
	if _, err := db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("failed to save into %s: %w", table, err)
	}
	return nil
}

// findWhere returns one new *T per matching row, where T is the type of obj
func findWhere(ctx context.Context, db *sql.DB, obj Persistable, where string, args ...any) ([]any, error) {
	cols := columnsOf(obj)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	table := obj.GetTableName()
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(names, ", "), table)
	if where != "" {
		q += " WHERE " + where
	}
	logger.Debug("FindWhere SQL", q)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	t := reflect.TypeOf(obj)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	var results []any
	for rows.Next() {
		ptr := reflect.New(t)
		dest := make([]any, len(cols))
		for i, c := range cols {
			dest[i] = ptr.Elem().Field(c.field).Addr().Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row from %s: %w", table, err)
		}
		results = append(results, ptr.Interface())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows from %s: %w", table, err)
	}
	return results, nil
}
