package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Queryable is the subset of sqlx behaviour that the stores depend upon. Both
// *sqlx.DB and *sqlx.Tx satisfy this interface, allowing store methods to be
// used inside or outside of a wrapped transaction.
type Queryable interface {
	sqlx.Queryer
	sqlx.Execer
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	NamedExec(query string, arg interface{}) (sql.Result, error)
	Rebind(query string) string
}

// JsonColumn wraps a value which is stored in the database as JSONB,
// typically the output of a JSONB_AGG over joined rows. It implements
// sql.Scanner and driver.Valuer so sqlx can populate it directly.
type JsonColumn[T any] struct {
	val *T
}

func (j *JsonColumn[T]) Scan(src any) error {
	if src == nil {
		j.val = nil
		return nil
	}

	var bytes []byte
	switch src := src.(type) {
	case []byte:
		bytes = src
	case string:
		bytes = []byte(src)
	default:
		return fmt.Errorf("JsonColumn scan failed: unsupported source type %T", src)
	}

	j.val = new(T)
	return json.Unmarshal(bytes, j.val)
}

func (j JsonColumn[T]) Value() (driver.Value, error) {
	if j.val == nil {
		return nil, nil
	}

	return json.Marshal(*j.val)
}

// Get returns the wrapped value, which is nil if the scanned column was NULL.
func (j *JsonColumn[T]) Get() *T {
	return j.val
}
