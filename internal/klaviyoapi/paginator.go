package klaviyoapi

import (
	"context"
)

// FetchFunc fetches one page given an opaque cursor (empty string for
// the first page) (spec.md §4.3).
type FetchFunc func(ctx context.Context, cursor string) (Page, error)

// Paginate lazily drains fetch, invoking emit once per page's records
// (in page order) until a page without a NextCursor is returned. An
// empty page's Data does not terminate iteration by itself (spec.md
// §4.3 "Empty page arrays are legal and must not terminate iteration
// unless nextCursor is absent").
func Paginate(ctx context.Context, fetch FetchFunc, emit func([]map[string]interface{}) error) error {
	cursor := ""
	for {
		page, err := fetch(ctx, cursor)
		if err != nil {
			return err
		}
		if err := emit(page.Data); err != nil {
			return err
		}
		if page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
}
