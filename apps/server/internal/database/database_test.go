package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMode(t *testing.T) {
	tests := map[string]string{
		"":           ModeMemory,
		"MEM":        ModeMemory,
		"local":      ModeSQLite,
		" sqlite ":   ModeSQLite,
		"postgresql": ModePostgres,
		"db":         ModePostgres,
	}
	for in, want := range tests {
		got, err := NormalizeMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := NormalizeMode("redis")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &DB{Dialect: DialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.Rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &DB{Dialect: DialectSQLite}
	assert.Equal(t, "SELECT ? ", lite.Rebind("SELECT ? "))
}

func TestOpenSQLiteInMemory(t *testing.T) {
	db, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate(context.Background(), []string{
		`CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT NOT NULL UNIQUE)`,
	}))
	_, err = db.Exec(`INSERT INTO t (name) VALUES (?)`, "a")
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO t (name) VALUES (?)`, "a")
	require.Error(t, err)
	assert.True(t, db.IsUniqueViolation(err))
}

func TestOpenMemoryModeHasNoDB(t *testing.T) {
	db, err := Open(context.Background(), ModeMemory, "", "")
	require.NoError(t, err)
	assert.Nil(t, db)
}
