package relstore

import (
	"database/sql/driver"

	sqlite "modernc.org/sqlite"
)

// sqliteRegisterRegexp installs the "regexp" scalar function SQLite's
// REGEXP operator dispatches to ("x REGEXP y" calls regexp(y, x)), mirroring
// the teacher's vec_compat.go registration of vector_distance_cos via the
// same RegisterDeterministicScalarFunction hook.
func sqliteRegisterRegexp() error {
	return sqlite.RegisterDeterministicScalarFunction("regexp", 2, regexpFn)
}

func regexpFn(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	pattern, _ := args[0].(string)
	value, _ := args[1].(string)
	ok, err := matchRegexp(pattern, value)
	if err != nil {
		return nil, err
	}
	return ok, nil
}
