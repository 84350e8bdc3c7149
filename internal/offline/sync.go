package offline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/csaude/comvida/internal/platform/remote"
)

// Lister is the read side of a remote collection.
type Lister[D any] interface {
	List(ctx context.Context, q remote.ListQuery) (*remote.PageResult[D], error)
}

// Sync pages through the remote collection and stores every record under
// resource. Records stored earlier are replaced. When purge is set, pages
// are collected first and the resource is swapped for them in one
// transaction once the last page arrived, so a failed sync leaves the
// previous snapshot untouched.
func Sync[D any](ctx context.Context, src Lister[D], dst *Store, resource string, pageSize int, purge bool, log zerolog.Logger) (int, error) {
	if pageSize <= 0 {
		pageSize = 100
	}

	var pending []Record
	synced := 0
	for page := 0; ; page++ {
		res, err := src.List(ctx, remote.ListQuery{Page: page, Size: pageSize})
		if err != nil {
			return synced, fmt.Errorf("sync %s page %d: %w", resource, page, err)
		}
		records := make([]Record, 0, len(res.Content))
		for _, dto := range res.Content {
			r, err := NewRecord(resource, dto)
			if err != nil {
				log.Warn().Err(err).Str("resource", resource).Msg("skipping record")
				continue
			}
			records = append(records, r)
		}
		if purge {
			pending = append(pending, records...)
		} else {
			if err := dst.Put(ctx, resource, records...); err != nil {
				return synced, err
			}
			synced += len(records)
		}
		log.Debug().Str("resource", resource).Int("page", page).Int("records", len(records)).Msg("page synced")

		if lastPage(res, page, pageSize) {
			break
		}
	}

	if purge {
		if err := dst.Replace(ctx, resource, pending...); err != nil {
			return 0, err
		}
		synced = len(pending)
	}
	log.Info().Str("resource", resource).Int("records", synced).Bool("purge", purge).Msg("sync complete")
	return synced, nil
}

// lastPage reports whether page is the final one. Servers may clamp the
// page size, so the page count or size they report wins over requested.
func lastPage[D any](res *remote.PageResult[D], page, requested int) bool {
	if len(res.Content) == 0 {
		return true
	}
	pages := res.TotalPages
	if pages <= 0 {
		size := res.Size
		if size <= 0 {
			size = requested
		}
		pages = remote.PageCount(res.TotalSize, size)
	}
	return page+1 >= pages
}
