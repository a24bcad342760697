package hospitaldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// sampleRows is the number of example rows appended to each table's schema.
const sampleRows = 3

// Schema describes the given tables, or every table when none are named.
// Each table contributes its CREATE TABLE statement followed by a comment
// block with a few sample rows.
func (d *DB) Schema(ctx context.Context, tables ...string) (string, error) {
	if len(tables) == 0 {
		all, err := d.Tables(ctx)
		if err != nil {
			return "", err
		}
		tables = all
	}

	var b strings.Builder
	for i, table := range tables {
		ddl, err := d.createStatement(ctx, table)
		if err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(ddl))
		b.WriteString("\n\n")

		samples, err := d.samples(ctx, table)
		if err != nil {
			return "", err
		}
		b.WriteString(samples)
	}
	return b.String(), nil
}

// ColumnLines reduces a table schema to its column definitions, dropping the
// CREATE TABLE line, key constraints and the sample-row block.
func ColumnLines(schema string) string {
	var out []string
	for _, line := range strings.Split(schema, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "/*") {
			break
		}
		if line == "" || !isLetter(line[0]) {
			continue
		}
		if strings.Contains(line, "PRIMARY KEY") || strings.Contains(line, "CREATE TABLE") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func (d *DB) createStatement(ctx context.Context, table string) (string, error) {
	var ddl string
	err := d.db.QueryRowContext(ctx,
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&ddl)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if err != nil {
		return "", fmt.Errorf("read schema for %s: %w", table, err)
	}
	return ddl, nil
}

func (d *DB) samples(ctx context.Context, table string) (string, error) {
	// table was resolved through sqlite_master, so quoting is sufficient.
	quoted := `"` + strings.ReplaceAll(table, `"`, `""`) + `"`
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoted, sampleRows))
	if err != nil {
		return "", fmt.Errorf("sample rows from %s: %w", table, err)
	}
	defer rows.Close()

	res, err := scanRows(rows, sampleRows)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "/*\n%d rows from %s table:\n", sampleRows, table)
	b.WriteString(strings.Join(res.Columns, "\t"))
	b.WriteString("\n")
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprint(v)
		}
		b.WriteString(strings.Join(cells, "\t"))
		b.WriteString("\n")
	}
	b.WriteString("*/")
	return b.String(), nil
}
