package hospitaldb

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var seedTime = time.Date(2025, 10, 15, 9, 30, 0, 0, time.UTC)

func seededDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "hospital.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Seed(context.Background(), Generate(DefaultSeed, seedTime)))
	return db
}

func TestGenerateIsDeterministic(t *testing.T) {
	a := Generate(DefaultSeed, seedTime)
	b := Generate(DefaultSeed, seedTime)
	assert.Equal(t, a, b)

	require.Len(t, a.Hospitals, 50)
	require.Len(t, a.Resources, 50)
	require.Len(t, a.Finance, 50)
	assert.Len(t, a.Suppliers, 3)
	assert.Len(t, a.Inventory, 2)

	assert.Equal(t, "PUNE_001", a.Hospitals[0].ID)
	assert.Equal(t, "Ruby Hill Hospital, Pune", a.Hospitals[0].Name)
	assert.Equal(t, "PUNE_050", a.Hospitals[49].ID)
}

func TestGenerateInvariants(t *testing.T) {
	ds := Generate(DefaultSeed, seedTime)

	for i, h := range ds.Hospitals {
		assert.GreaterOrEqual(t, h.MaxCapacityBeds, 25, h.ID)
		assert.LessOrEqual(t, h.MaxCapacityBeds, 800, h.ID)
		assert.Contains(t, []string{"govt", "private", "trust"}, h.OwnershipType)

		r := ds.Resources[i]
		assert.Equal(t, h.ID, r.HospitalID)
		assert.LessOrEqual(t, r.OccupiedBeds, r.TotalBeds)
		assert.LessOrEqual(t, r.ICUOccupiedBeds, r.TotalICUBeds)
		assert.LessOrEqual(t, r.InUseVentilators, r.TotalVentilators)
		assert.GreaterOrEqual(t, r.EDTotalBeds, 6)
		assert.GreaterOrEqual(t, r.TotalICUBeds, 3)
		assert.GreaterOrEqual(t, r.EstDailyOxygenLiters, 150.0)

		f := ds.Finance[i]
		assert.InDelta(t, f.TotalExpenditure-f.CapitalExpenditure, f.OperationalExpenditure, 0.01)
	}
}

func TestSeedAndTables(t *testing.T) {
	db := seededDB(t)
	ctx := context.Background()

	tables, err := db.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"hospitals", "hospital_resource_timeseries", "hospital_finance_monthly", "suppliers", "inventory_items",
	}, tables)

	seeded, err := db.IsSeeded(ctx)
	require.NoError(t, err)
	assert.True(t, seeded)

	// Reseeding replaces rather than duplicates.
	require.NoError(t, db.Seed(ctx, Generate(DefaultSeed, seedTime)))
	res, err := db.Query(ctx, "SELECT COUNT(*) AS n FROM hospital_resource_timeseries")
	require.NoError(t, err)
	assert.EqualValues(t, 50, res.Rows[0][0])
}

func TestIsSeededEmpty(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer db.Close()

	seeded, err := db.IsSeeded(context.Background())
	require.NoError(t, err)
	assert.False(t, seeded)
}

func TestEnsureSeeded(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "hospital.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	seeded, err := db.EnsureSeeded(ctx)
	require.NoError(t, err)
	assert.True(t, seeded)

	seeded, err = db.EnsureSeeded(ctx)
	require.NoError(t, err)
	assert.False(t, seeded)
}

func TestQuery(t *testing.T) {
	db := seededDB(t)

	res, err := db.Query(context.Background(),
		"SELECT hospital_id, hospital_name FROM hospitals ORDER BY hospital_id LIMIT 2;")
	require.NoError(t, err)
	assert.Equal(t, []string{"hospital_id", "hospital_name"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "PUNE_001", res.Rows[0][0])
	assert.False(t, res.Truncated)
}

func TestQueryTruncates(t *testing.T) {
	db := seededDB(t)
	db.maxRows = 10

	res, err := db.Query(context.Background(), "SELECT hospital_id FROM hospitals")
	require.NoError(t, err)
	assert.Len(t, res.Rows, 10)
	assert.True(t, res.Truncated)
}

func TestQueryRejectsWrites(t *testing.T) {
	db := seededDB(t)
	ctx := context.Background()

	for _, q := range []string{
		"DELETE FROM hospitals",
		"DROP TABLE suppliers",
		"SELECT 1; DELETE FROM hospitals",
		"  update hospitals set region = 'x'",
	} {
		_, err := db.Query(ctx, q)
		assert.ErrorIs(t, err, ErrReadOnly, q)
	}

	// A CTE that writes passes the prefix check but is stopped by query_only.
	_, err := db.Query(ctx, "WITH x AS (SELECT 1) DELETE FROM suppliers")
	require.Error(t, err)

	res, err := db.Query(ctx, "SELECT COUNT(*) FROM suppliers")
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Rows[0][0])
}

func TestQueryReportsSQLErrors(t *testing.T) {
	db := seededDB(t)
	_, err := db.Query(context.Background(), "SELECT no_such_column FROM hospitals")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_such_column")
}

func TestSchema(t *testing.T) {
	db := seededDB(t)
	ctx := context.Background()

	full, err := db.Schema(ctx)
	require.NoError(t, err)
	for _, table := range []string{"hospitals", "suppliers", "inventory_items"} {
		assert.Contains(t, full, "CREATE TABLE "+table)
		assert.Contains(t, full, "3 rows from "+table+" table:")
	}

	one, err := db.Schema(ctx, "inventory_items")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(one, "CREATE TABLE inventory_items"))
	assert.Contains(t, one, "OXY_LITER")
	assert.NotContains(t, one, "hospitals")

	_, err = db.Schema(ctx, "patients")
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestColumnLines(t *testing.T) {
	db := seededDB(t)

	schema, err := db.Schema(context.Background(), "suppliers")
	require.NoError(t, err)

	got := ColumnLines(schema)
	assert.Equal(t, strings.Join([]string{
		"vendor_name VARCHAR(100),",
		"vendor_type VARCHAR(50),",
		"contact JSON,",
		"lead_time_days INT,",
		"payment_terms_days INT",
	}, "\n"), got)
}
