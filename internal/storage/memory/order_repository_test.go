package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
	"github.com/vladislavdragonenkov/orderpipe/internal/storage/memory"
)

func newOrder(id string, createdAt time.Time) domain.Order {
	order := domain.Order{
		ID:         id,
		CustomerID: "customer-1",
		Status:     domain.OrderStatusNew,
		Currency:   "USD",
		Items: []domain.OrderItem{
			{ID: id + "-item-1", ProductID: 1, Qty: 5, UnitPriceMinor: 100, CreatedAt: createdAt},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	order.RecalculateTotals()
	return order
}

func TestOrderRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Orders()
	order := newOrder("order-1", time.Now().UTC())

	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, order); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected duplicate create to fail, got %v", err)
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ID != order.ID || stored.TotalMinor != 500 {
		t.Fatalf("unexpected stored order: %+v", stored)
	}

	// мутация возвращённой копии не должна затронуть хранилище
	stored.Items[0].Qty = 99
	again, _ := repo.Get(ctx, order.ID)
	if again.Items[0].Qty != 5 {
		t.Fatal("repository leaked internal items slice")
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_ListWithFilter(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Orders()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"order-a", "order-b", "order-c"} {
		order := newOrder(id, base.Add(time.Duration(i)*time.Hour))
		if id == "order-b" {
			order.Status = domain.OrderStatusPaid
		}
		if err := repo.Create(ctx, order); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	orders, err := repo.List(ctx, domain.OrderFilter{}, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 3 || orders[0].ID != "order-c" {
		t.Fatalf("expected newest first, got %v", orders)
	}

	paid, err := repo.List(ctx, domain.OrderFilter{Status: domain.OrderStatusPaid}, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(paid) != 1 || paid[0].ID != "order-b" {
		t.Fatalf("unexpected filtered orders: %v", paid)
	}

	limited, err := repo.List(ctx, domain.OrderFilter{CreatedAfter: base}, 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestOrderRepository_ListChildren(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Orders()
	now := time.Now().UTC()

	master := newOrder("master", now)
	master.IsMasterOrder = true
	master.Items = nil
	master.RecalculateTotals()
	if err := repo.Create(ctx, master); err != nil {
		t.Fatalf("create master: %v", err)
	}
	for i, id := range []string{"child-2", "child-1"} {
		child := newOrder(id, now.Add(time.Duration(1-i)*time.Minute))
		child.ParentID = master.ID
		if err := repo.Create(ctx, child); err != nil {
			t.Fatalf("create child: %v", err)
		}
	}

	children, err := repo.ListChildren(ctx, master.ID)
	if err != nil {
		t.Fatalf("list children: %v", err)
	}
	if len(children) != 2 || children[0] != "child-1" || children[1] != "child-2" {
		t.Fatalf("unexpected children: %v", children)
	}
}

func TestOrderRepository_Save(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Orders()
	order := newOrder("order-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	stored.Status = domain.OrderStatusPaymentReceived
	if err := repo.Save(ctx, stored); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	updated, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if updated.Status != domain.OrderStatusPaymentReceived || updated.Version != 1 {
		t.Fatalf("unexpected updated order: status=%s version=%d", updated.Status, updated.Version)
	}

	// устаревшая версия
	if err := repo.Save(ctx, stored); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if err := repo.Save(ctx, newOrder("missing", time.Now())); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
