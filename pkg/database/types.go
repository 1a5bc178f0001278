package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSON stores an arbitrary JSON document in a text column, portable across
// PostgreSQL, MySQL and SQLite.
type JSON json.RawMessage

// Scan implements the sql.Scanner interface for reading from the database.
func (j *JSON) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSON(v)
	default:
		return errors.New("JSON: unsupported scan type")
	}
	if len(*j) > 0 && !json.Valid(*j) {
		return errors.New("JSON: invalid document")
	}
	return nil
}

// Value implements the driver.Valuer interface for writing to the database.
func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// MarshalJSON returns the raw document.
func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON stores a copy of data.
func (j *JSON) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}

// GormDataType returns the GORM data type hint.
func (JSON) GormDataType() string {
	return "text"
}
