package database

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	targets "modbus-tools/modbus-go-pwn/database"
)

func TestParseTarget(t *testing.T) {
	cases := []struct {
		spec string
		want targets.Target
	}{
		{"PLC1=10.0.0.5:5020/3", targets.Target{Name: "plc1", Host: "10.0.0.5", Port: 5020, UnitID: 3}},
		{"hmi=10.0.0.9", targets.Target{Name: "hmi", Host: "10.0.0.9", Port: 502, UnitID: 1}},
		{"rtu=rtu.local/0", targets.Target{Name: "rtu", Host: "rtu.local", Port: 502, UnitID: 0}},
		{"v6=[::1]:1502", targets.Target{Name: "v6", Host: "::1", Port: 1502, UnitID: 1}},
	}
	for _, tc := range cases {
		got, err := ParseTarget(tc.spec)
		require.NoError(t, err, tc.spec)
		assert.Equal(t, tc.want, got, tc.spec)
	}

	for _, bad := range []string{"", "noequals", "=10.0.0.1", "x=", "x=10.0.0.1:0", "x=10.0.0.1/256", "x=:502"} {
		_, err := ParseTarget(bad)
		assert.Error(t, err, bad)
	}
}

func TestCreateAndPopulate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	require.NoError(t, CreateAndPopulate(db, nil))
	require.NoError(t, db.Close())

	loaded, err := targets.OpenTargets(path)
	require.NoError(t, err)
	require.Len(t, loaded, len(DefaultProfiles))
	assert.Equal(t, 5020, loaded["lab"].Port)

	db, err = sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, CreateAndPopulate(db, []targets.Target{{Name: "Lab", Host: "10.1.1.1", Port: 502, UnitID: 9}}))
	loaded, err = targets.LoadTargets(db)
	require.NoError(t, err)
	assert.Equal(t, "10.1.1.1", loaded["lab"].Host)
	assert.Equal(t, 9, loaded["lab"].UnitID)
}
