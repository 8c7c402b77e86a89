package postgres

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

func TestCatalogRepository_PostgresSaveAndGet(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()

	product := domain.Product{ID: 10, Name: "pen", PriceMinor: 120, StockQuantity: 3, StockTracked: true, Orderable: true, Published: true}
	require.NoError(t, store.Catalog().SaveProduct(ctx, product))

	got, err := store.Catalog().GetProduct(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, "pen", got.Name)
	require.Equal(t, int32(3), got.StockQuantity)

	product.Published = false
	product.PriceMinor = 150
	require.NoError(t, store.Catalog().SaveProduct(ctx, product))
	got, err = store.Catalog().GetProduct(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, int64(150), got.PriceMinor)
	require.Equal(t, "unpublished", got.UnavailableReason())

	_, err = store.Catalog().GetProduct(ctx, 404)
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestStockRepository_PostgresConcurrentDecrement(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()

	require.NoError(t, store.Catalog().SaveProduct(ctx, domain.Product{
		ID: 1, Name: "last unit", PriceMinor: 100, StockQuantity: 1, StockTracked: true, Orderable: true, Published: true,
	}))

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
				ok, err := tx.Stock().Decrement(ctx, 1, 1)
				if err != nil {
					return err
				}
				if !ok {
					return domain.ErrInsufficientStock
				}
				return nil
			})
			if err == nil {
				winners.Add(1)
			} else if !errors.Is(err, domain.ErrInsufficientStock) {
				t.Errorf("unexpected decrement error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), winners.Load())
	available, err := store.Stock().Available(ctx, 1)
	require.NoError(t, err)
	require.Zero(t, available)

	_, err = store.Stock().Decrement(ctx, 404, 1)
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestCartRepository_PostgresAddAndClear(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()

	require.NoError(t, store.Catalog().SaveProduct(ctx, domain.Product{
		ID: 1, Name: "book", PriceMinor: 100, StockQuantity: 10, StockTracked: true, Orderable: true, Published: true,
	}))

	carts := store.Carts()
	require.NoError(t, carts.Add(ctx, domain.CartItem{CustomerID: "c-1", ProductID: 1, Qty: 1}))
	require.NoError(t, carts.Add(ctx, domain.CartItem{CustomerID: "c-1", ProductID: 1, Qty: 2}))
	require.ErrorIs(t, carts.Add(ctx, domain.CartItem{CustomerID: "c-1", ProductID: 1, Qty: 0}), domain.ErrItemQtyInvalid)

	items, err := carts.Items(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, int32(3), items[0].Qty)

	require.NoError(t, carts.Clear(ctx, "c-1"))
	items, err = carts.Items(ctx, "c-1")
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestCartRepository_PostgresBoundsMergedQuantity(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()

	require.NoError(t, store.Catalog().SaveProduct(ctx, domain.Product{
		ID: 1, Name: "book", PriceMinor: 100, StockQuantity: 10, StockTracked: true, Orderable: true, Published: true,
	}))

	carts := store.Carts()
	require.NoError(t, carts.Add(ctx, domain.CartItem{CustomerID: "c-1", ProductID: 1, Qty: domain.MaxLineQty}))
	require.ErrorIs(t, carts.Add(ctx, domain.CartItem{CustomerID: "c-1", ProductID: 1, Qty: 1}), domain.ErrItemQtyTooLarge)
	require.ErrorIs(t, carts.Add(ctx, domain.CartItem{CustomerID: "c-2", ProductID: 1, Qty: domain.MaxLineQty + 1}), domain.ErrItemQtyTooLarge)

	items, err := carts.Items(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, domain.MaxLineQty, items[0].Qty)
}
