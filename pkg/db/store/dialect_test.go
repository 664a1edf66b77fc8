package store

import (
	"errors"
	"fmt"
	"testing"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mwantia/opsreg/pkg/errs"
)

func TestNewDialect(t *testing.T) {
	cases := map[string]string{
		"sqlite:///var/lib/opsreg.db":              "sqlite",
		"sqlite://opsreg.db":                       "sqlite",
		"postgres://u:p@localhost:5432/opsreg":     "postgres",
		"postgresql://u:p@localhost/opsreg":        "postgres",
		"mysql://u:p@localhost:3306/opsreg":        "mysql",
		"MySQL://u@db.internal:3306/opsreg?tls=no": "mysql",
	}
	for uri, name := range cases {
		d, err := NewDialect(uri)
		require.NoError(t, err, uri)
		assert.Equal(t, name, d.Name(), uri)
	}

	for _, uri := range []string{"", "opsreg.db", "sqlite://", "oracle://db/x", "mysql://localhost"} {
		_, err := NewDialect(uri)
		assert.ErrorIs(t, err, errs.ErrConfiguration, uri)
	}
}

func TestMySQLDSN(t *testing.T) {
	dsn, err := mysqlDSN("mysql://opsreg:secret@db:3306/registry?charset=utf8mb4")
	require.NoError(t, err)

	assert.Contains(t, dsn, "opsreg:secret@tcp(db:3306)/registry?")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestTagConditions(t *testing.T) {
	sqliteD, _ := NewDialect("sqlite://x.db")
	cond, args := sqliteD.TagCondition("stage", "prod")
	assert.Equal(t, "json_extract(tags, ?) = ?", cond)
	assert.Equal(t, []any{`$."stage"`, "prod"}, args)

	pgD, _ := NewDialect("postgres://localhost/x")
	cond, args = pgD.TagCondition("stage", "prod")
	assert.Equal(t, "tags ->> ? = ?", cond)
	assert.Equal(t, []any{"stage", "prod"}, args)

	myD, _ := NewDialect("mysql://localhost/x")
	cond, _ = myD.TagCondition("stage", "prod")
	assert.Contains(t, cond, "JSON_EXTRACT")

	assert.NoError(t, validTagKey("team.name"))
	assert.Error(t, validTagKey(`a"b`))
	assert.Error(t, validTagKey(""))
}

func TestUniqueViolations(t *testing.T) {
	sqliteD, _ := NewDialect("sqlite://x.db")
	assert.True(t, sqliteD.IsUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: data_registry.uid (1555)")))
	assert.False(t, sqliteD.IsUniqueViolation(errors.New("database is locked")))

	pgD, _ := NewDialect("postgres://localhost/x")
	assert.True(t, pgD.IsUniqueViolation(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})))
	assert.False(t, pgD.IsUniqueViolation(&pq.Error{Code: "23503"}))

	myD, _ := NewDialect("mysql://localhost/x")
	assert.True(t, myD.IsUniqueViolation(&mysqldrv.MySQLError{Number: 1062}))
	assert.True(t, myD.IsUniqueViolation(gorm.ErrDuplicatedKey))
	assert.False(t, myD.IsUniqueViolation(&mysqldrv.MySQLError{Number: 1213}))
}
