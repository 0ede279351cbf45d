package postgres

import (
	"strconv"
	"strings"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

// listQuery assembles a filtered, paginated SELECT with positional arguments.
type listQuery struct {
	b     strings.Builder
	args  []any
	where bool
}

func newListQuery(base string) *listQuery {
	q := &listQuery{}
	q.b.WriteString(base)
	return q
}

func (q *listQuery) bind(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

// and adds "col op $n". The first condition opens the WHERE clause.
func (q *listQuery) and(col, op string, v any) {
	if q.where {
		q.b.WriteString(" AND ")
	} else {
		q.b.WriteString(" WHERE ")
		q.where = true
	}
	q.b.WriteString(col + " " + op + " " + q.bind(v))
}

// window filters col to the inclusive [Since, Until] range of opts.
func (q *listQuery) window(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		q.and(col, ">=", *opts.Since)
	}
	if opts.Until != nil {
		q.and(col, "<=", *opts.Until)
	}
}

// page appends the ordering and the LIMIT/OFFSET of opts. Zero values are
// left out.
func (q *listQuery) page(orderBy string, opts domain.ListOpts) {
	q.b.WriteString(" ORDER BY " + orderBy)
	if opts.Limit > 0 {
		q.b.WriteString(" LIMIT " + q.bind(opts.Limit))
	}
	if opts.Offset > 0 {
		q.b.WriteString(" OFFSET " + q.bind(opts.Offset))
	}
}

func (q *listQuery) sql() string { return q.b.String() }
