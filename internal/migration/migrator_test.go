package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatabaseType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    DatabaseType
		wantErr bool
	}{
		{"postgres", Postgres, false},
		{"PostgreSQL", Postgres, false},
		{"pgx", Postgres, false},
		{"mysql", MySQL, false},
		{"mariadb", MySQL, false},
		{" mysql ", MySQL, false},
		{"sqlite", "", true},
		{"", "", true},
		{"oracle", "", true},
	}

	for _, tc := range cases {
		got, err := ParseDatabaseType(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	t.Parallel()

	pg, err := listMigrations(postgresFS, "migrations/postgres")
	require.NoError(t, err)
	require.NotEmpty(t, pg)
	assert.Equal(t, uint(1), pg[0].Version)
	assert.Equal(t, "init", pg[0].Name)

	my, err := listMigrations(mysqlFS, "migrations/mysql")
	require.NoError(t, err)
	require.Len(t, my, len(pg), "dialects must carry the same migration set")
	for i := range pg {
		assert.Equal(t, pg[i].Version, my[i].Version)
		assert.Equal(t, pg[i].Name, my[i].Name)
	}
}

func TestListMigrationsIgnoresMalformedNames(t *testing.T) {
	t.Parallel()

	infos, err := listMigrations(postgresFS, "migrations/postgres")
	require.NoError(t, err)
	for _, info := range infos {
		assert.NotZero(t, info.Version)
		assert.NotEmpty(t, info.Name)
	}
}
