package firestore

import (
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
)

// newestFirst orders by (createdAt desc, document id desc) and resumes after cursor.
func newestFirst(q firestore.Query, cursor pagination.Cursor) firestore.Query {
	q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	if !cursor.IsZero() {
		q = q.StartAfter(cursor.CreatedAt.UTC(), cursor.ID)
	}
	return q
}

// buildPage converts up to size documents and emits a next token when an extra document was read.
func buildPage[D any, T any](docs []pfirestore.Document[D], size int, convert func(pfirestore.Document[D]) (T, error), key func(T) (time.Time, string)) (domain.CursorPage[T], error) {
	page := domain.CursorPage[T]{Items: make([]T, 0, min(len(docs), size))}
	for i, doc := range docs {
		if i == size {
			last := page.Items[len(page.Items)-1]
			created, id := key(last)
			page.NextPageToken = pagination.NextToken(created, id)
			break
		}
		item, err := convert(doc)
		if err != nil {
			return domain.CursorPage[T]{}, err
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}
