package models

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func TestJSONColumnsParse(t *testing.T) {
	for _, model := range append(AllCards(), &HardwareMetrics{}) {
		_, err := schema.Parse(model, &sync.Map{}, schema.NamingStrategy{})
		assert.NoError(t, err, "%T", model)
	}
}

func TestNilJSONValues(t *testing.T) {
	v, err := FloatList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	v, err = StringList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	v, err = JSONMap(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)
}

func TestScanReplacesPreviousContent(t *testing.T) {
	m := JSONMap{"stale": "yes"}
	require.NoError(t, m.Scan(`{"owner":"ml"}`))
	assert.Equal(t, JSONMap{"owner": "ml"}, m)

	l := FloatList{1, 2, 3}
	require.NoError(t, l.Scan([]byte(`[0.5]`)))
	assert.Equal(t, FloatList{0.5}, l)

	require.NoError(t, l.Scan(nil))
	assert.Nil(t, l)

	assert.Error(t, l.Scan(42))
}

func TestHardwareMetricsRoundTrip(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "models.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&HardwareMetrics{}))

	require.NoError(t, db.Create(&HardwareMetrics{RunUID: "run-1"}).Error)
	require.NoError(t, db.Create(&HardwareMetrics{RunUID: "run-2", CPUPercentPerCore: FloatList{12.5, 80}}).Error)

	var rows []HardwareMetrics
	require.NoError(t, db.Order("id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Empty(t, rows[0].CPUPercentPerCore)
	assert.Equal(t, FloatList{12.5, 80}, rows[1].CPUPercentPerCore)
}
