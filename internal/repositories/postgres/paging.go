package postgres

import (
	"strconv"
	"strings"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/pagination"
)

// queryArgs collects positional parameters while a statement is assembled.
type queryArgs []any

func (a *queryArgs) add(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

// where joins non-empty clauses with AND.
func where(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

// newestFirst appends the keyset clause and ordering for created_at DESC, id DESC listings.
func newestFirst(clauses []string, args *queryArgs, cursor pagination.Cursor, size int) ([]string, string) {
	if !cursor.IsZero() {
		clauses = append(clauses, "(created_at, id) < ("+args.add(cursor.CreatedAt.UTC())+", "+args.add(cursor.ID)+")")
	}
	return clauses, " ORDER BY created_at DESC, id DESC LIMIT " + args.add(size+1)
}

// buildPage trims the look-ahead row and emits the next token when more rows exist.
func buildPage[T any](items []T, size int, key func(T) (time.Time, string)) domain.CursorPage[T] {
	page := domain.CursorPage[T]{Items: items}
	if len(items) > size {
		page.Items = items[:size]
		createdAt, id := key(page.Items[size-1])
		page.NextPageToken = pagination.NextToken(createdAt, id)
	}
	return page
}
