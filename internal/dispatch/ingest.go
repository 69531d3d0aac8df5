package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/mailtriage/internal/store"
	"github.com/mailtriage/pkg/models"
)

// Source lists candidate records and renders one as normalized content
type Source interface {
	Type() models.ItemType
	ListIDs(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, id string) (string, error)
}

const ingestConcurrency = 4

// Ingest inserts every listed record not yet stored and returns how many were
// new. Running it twice, or concurrently, never duplicates an item.
func (d *Dispatcher) Ingest(ctx context.Context, src Source) (int, error) {
	ids, err := src.ListIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s records: %w", src.Type(), err)
	}

	var inserted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ingestConcurrency)
	for _, id := range ids {
		key := models.ItemKey{Type: src.Type(), ID: id}
		g.Go(func() error {
			_, err := d.store.GetItem(gctx, key)
			if err == nil {
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}

			content, err := src.Fetch(gctx, id)
			if err != nil {
				return fmt.Errorf("failed to fetch %s: %w", key, err)
			}
			ok, err := d.store.InsertItemIfAbsent(gctx, key, content)
			if err != nil {
				return err
			}
			if ok {
				inserted.Add(1)
				d.logger.Debug().Str("item_type", string(key.Type)).Str("item_id", key.ID).Msg("item ingested")
			}
			return nil
		})
	}
	err = g.Wait()

	n := int(inserted.Load())
	d.logger.Info().Int("listed", len(ids)).Int("inserted", n).Msg("ingestion finished")
	return n, err
}
