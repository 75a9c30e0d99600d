package postgres

import (
	"fmt"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
)

// pageQuery appends the time window, newest-first ordering and paging of opts
// to base, which must already contain a WHERE clause. timeCol names the
// column the window applies to.
func pageQuery(base, timeCol string, opts domain.ListOpts, args ...any) (string, []any) {
	query := base
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Since != nil {
		query += " AND " + timeCol + " >= " + next(*opts.Since)
	}
	if opts.Until != nil {
		query += " AND " + timeCol + " <= " + next(*opts.Until)
	}
	query += " ORDER BY " + timeCol + " DESC"
	if opts.Limit > 0 {
		query += " LIMIT " + next(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + next(opts.Offset)
	}
	return query, args
}
