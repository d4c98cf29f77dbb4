package database

// Request is a single parameterised query together with the conversion of its result rows.
// R is the row type; it is returned by value, so it should be a plain struct with JSON tags.
type Request[R any] interface {
	// Statement is the SQL text. It doubles as the statement cache key, so it should be a constant.
	Statement() string
	Params() []interface{}
	// ScanRow converts the current row. It is called once per row, in result order.
	ScanRow(row Row) (R, error)
}

// collectRows returns a materializer that scans every row of a result into out. out is only written once the whole
// result has been read, so a failed attempt never leaves partial results behind.
func collectRows[R any](req Request[R], out *[]R) func(Rows) error {
	return func(rows Rows) error {
		result := make([]R, 0)
		for i := 0; rows.Next(); i++ {
			row, err := req.ScanRow(rows)
			if err != nil {
				return &ErrRowMaterialization{Index: i, Err: err}
			}
			result = append(result, row)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		*out = result
		return nil
	}
}
