package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSONMap is a string map stored as JSONB on postgres, JSON on mysql and
// TEXT on sqlite.
type JSONMap map[string]string

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return jsonValue(m)
}

func (m *JSONMap) Scan(src any) error {
	*m = nil
	return jsonScan(src, m)
}

func (JSONMap) GormDataType() string {
	return "json"
}

func (JSONMap) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	return jsonDataType(db)
}

// StringList holds card uid references.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsonValue(l)
}

func (l *StringList) Scan(src any) error {
	*l = nil
	return jsonScan(src, l)
}

func (StringList) GormDataType() string {
	return "json"
}

func (StringList) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	return jsonDataType(db)
}

// FloatList holds per-core hardware readings.
type FloatList []float64

func (l FloatList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsonValue(l)
}

func (l *FloatList) Scan(src any) error {
	*l = nil
	return jsonScan(src, l)
}

func (FloatList) GormDataType() string {
	return "json"
}

func (FloatList) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	return jsonDataType(db)
}

func jsonDataType(db *gorm.DB) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "JSONB"
	case "mysql":
		return "JSON"
	default:
		return "TEXT"
	}
}

func jsonValue(v any) (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func jsonScan(src any, dest any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dest)
	}

	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}
