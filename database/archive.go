package database

import (
	"fmt"
)

// Archival helpers. The monthly archiver exports old timeseries rows to
// compressed CSV and deletes them, then compacts the file. Table names are
// interpolated into SQL, so only the fixed allowlist below is accepted.

var archivableTables = []string{
	"open_interest",
	"funding_rate",
	"long_short_ratio",
	"taker_ratio",
	"anomalies",
}

// ArchivableTables returns the tables the archiver is allowed to trim
func ArchivableTables() []string {
	out := make([]string, len(archivableTables))
	copy(out, archivableTables)
	return out
}

func validTable(table string) bool {
	for _, t := range archivableTables {
		if t == table {
			return true
		}
	}
	return false
}

// RowsBefore returns the column names and stringified values of all rows in
// table with timestamp < cutoff, oldest first.
func (r *MarketRepository) RowsBefore(table string, cutoff int64) ([]string, [][]string, error) {
	if !validTable(table) {
		return nil, nil, fmt.Errorf("table %q is not archivable", table)
	}

	sqlRows, err := r.db.db.
		Raw(fmt.Sprintf("SELECT * FROM %s WHERE timestamp < ? ORDER BY timestamp ASC", table), cutoff).
		Rows()
	if err != nil {
		return nil, nil, err
	}
	defer sqlRows.Close()

	columns, err := sqlRows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var rows [][]string
	for sqlRows.Next() {
		raw := make([]interface{}, len(columns))
		for i := range raw {
			raw[i] = new(interface{})
		}
		if err := sqlRows.Scan(raw...); err != nil {
			return nil, nil, err
		}
		rec := make([]string, len(columns))
		for i, cell := range raw {
			v := *(cell.(*interface{}))
			if v == nil {
				rec[i] = ""
				continue
			}
			switch val := v.(type) {
			case []byte:
				rec[i] = string(val)
			case float64:
				rec[i] = fmt.Sprintf("%g", val)
			default:
				rec[i] = fmt.Sprintf("%v", val)
			}
		}
		rows = append(rows, rec)
	}
	return columns, rows, sqlRows.Err()
}

// DeleteBefore removes all rows in table with timestamp < cutoff and
// returns the number deleted.
func (r *MarketRepository) DeleteBefore(table string, cutoff int64) (int64, error) {
	if !validTable(table) {
		return 0, fmt.Errorf("table %q is not archivable", table)
	}
	res := r.db.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE timestamp < ?", table), cutoff)
	return res.RowsAffected, res.Error
}

// Vacuum compacts the storage file after a large delete
func (r *MarketRepository) Vacuum() error {
	return r.db.db.Exec("VACUUM").Error
}
