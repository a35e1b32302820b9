package order

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/irsalhamdi/storefront/core/cart"
	"github.com/irsalhamdi/storefront/core/product"
	"github.com/irsalhamdi/storefront/core/user"
	"github.com/irsalhamdi/storefront/database/dbtest"
	"github.com/irsalhamdi/storefront/validate"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/sync/errgroup"
)

var container *dbtest.Container

func TestMain(m *testing.M) {
	c, err := dbtest.Start()
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres unavailable, database tests will be skipped: %v\n", err)
	} else {
		container = c
	}

	code := m.Run()

	if container != nil {
		_ = container.Stop()
	}
	os.Exit(code)
}

type fixture struct {
	db  *sqlx.DB
	eng *Engine
	log *test.Hook
}

func newFixture(t *testing.T, carts Carts, stock Stock) *fixture {
	t.Helper()
	if container == nil {
		t.Skip("postgres unavailable")
	}

	db := container.NewDB(t, t.Name())
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	return &fixture{
		db:  db,
		eng: NewEngine(log, db, carts, stock),
		log: hook,
	}
}

func newDefaultFixture(t *testing.T) *fixture {
	return newFixture(t, cart.Repository{}, product.StockStore{})
}

func (f *fixture) user(t *testing.T, email string) user.User {
	t.Helper()
	u, err := user.Ensure(context.Background(), f.db, user.Identity{Subject: "sub|" + email, Email: email})
	if err != nil {
		t.Fatalf("creating user %s: %v", email, err)
	}
	return u
}

func (f *fixture) product(t *testing.T, price string, stock int) product.Product {
	t.Helper()
	now := time.Now().UTC()
	p := product.Product{
		ID:        validate.GenerateID(),
		Name:      "Product " + price,
		Price:     decimal.RequireFromString(price),
		Stock:     stock,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := product.Create(context.Background(), f.db, p); err != nil {
		t.Fatalf("creating product: %v", err)
	}
	return p
}

func (f *fixture) add(t *testing.T, userID string, productID string, qty int) {
	t.Helper()
	in := cart.ItemNew{ProductID: productID, Quantity: qty}
	if _, err := cart.AddItem(context.Background(), f.db, userID, in); err != nil {
		t.Fatalf("adding product[%s] to cart: %v", productID, err)
	}
}

func (f *fixture) reprice(t *testing.T, productID string, price string) {
	t.Helper()
	d := decimal.RequireFromString(price)
	if _, err := product.Update(context.Background(), f.db, productID, product.ProductUp{Price: &d}, time.Now().UTC()); err != nil {
		t.Fatalf("repricing product[%s]: %v", productID, err)
	}
}

func (f *fixture) stock(t *testing.T, productID string) int {
	t.Helper()
	p, err := product.Fetch(context.Background(), f.db, productID)
	if err != nil {
		t.Fatalf("fetching product[%s]: %v", productID, err)
	}
	return p.Stock
}

func (f *fixture) place(t *testing.T, userID string) OrderWithItems {
	t.Helper()
	o, err := f.eng.PlaceOrder(context.Background(), userID)
	if err != nil {
		t.Fatalf("placing order: %v", err)
	}
	return o
}

func (f *fixture) move(t *testing.T, orderID string, to Status) OrderWithItems {
	t.Helper()
	o, err := f.eng.UpdateStatus(context.Background(), orderID, StatusUp{Status: to})
	if err != nil {
		t.Fatalf("moving order[%s] to %s: %v", orderID, to, err)
	}
	return o
}

var sortItems = cmpopts.SortSlices(func(a, b Item) bool { return a.ID < b.ID })

func TestPlaceOrder(t *testing.T) {
	f := newDefaultFixture(t)
	ctx := context.Background()

	u := f.user(t, "buyer@example.com")
	p1 := f.product(t, "10.00", 5)
	p2 := f.product(t, "5.00", 5)

	f.add(t, u.ID, p1.ID, 1)
	f.add(t, u.ID, p1.ID, 1)
	f.add(t, u.ID, p2.ID, 1)

	ord := f.place(t, u.ID)

	if !ord.Total.Equal(decimal.RequireFromString("25.00")) {
		t.Fatalf("expected total 25.00, got %s", ord.Total)
	}
	if ord.Status != Pending {
		t.Fatalf("expected pending, got %s", ord.Status)
	}
	if len(ord.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(ord.Items))
	}
	if len(ord.Number) != len("ORD-")+10 {
		t.Fatalf("unexpected order number %q", ord.Number)
	}

	n, err := cart.Count(ctx, f.db, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected empty cart after checkout, got %d items", n)
	}

	if got := f.stock(t, p1.ID); got != 5 {
		t.Fatalf("placing an order must not touch stock, got %d", got)
	}

	listed, err := f.eng.ListForUser(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 order, got %d", len(listed))
	}
	if diff := cmp.Diff(ord, listed[0], sortItems); diff != "" {
		t.Fatalf("listed order differs from placed order (-placed +listed):\n%s", diff)
	}

	hs, err := f.eng.History(ctx, ord.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(hs) != 1 || hs[0].From != nil || hs[0].To != Pending {
		t.Fatalf("expected a single initial history entry, got %+v", hs)
	}

	entry := f.log.LastEntry()
	if entry == nil || entry.Message != "order placed" || entry.Data["order_id"] != ord.ID {
		t.Fatalf("expected an order placed log entry, got %+v", entry)
	}
}

func TestPlaceOrderKeepsCartPrice(t *testing.T) {
	f := newDefaultFixture(t)
	ctx := context.Background()

	u := f.user(t, "buyer@example.com")
	p := f.product(t, "10.00", 5)
	f.add(t, u.ID, p.ID, 2)

	f.reprice(t, p.ID, "99.00")

	ord := f.place(t, u.ID)
	if !ord.Items[0].PriceAtTime.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("expected price at time 10.00, got %s", ord.Items[0].PriceAtTime)
	}

	f.reprice(t, p.ID, "1.00")

	got, err := f.eng.Fetch(ctx, ord.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Total.Equal(decimal.RequireFromString("20")) || !got.Items[0].PriceAtTime.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("order amounts followed the catalog: total %s, price %s", got.Total, got.Items[0].PriceAtTime)
	}
}

func TestPlaceOrderEmptyCart(t *testing.T) {
	f := newDefaultFixture(t)
	ctx := context.Background()

	u := f.user(t, "buyer@example.com")

	if _, err := f.eng.PlaceOrder(ctx, u.ID); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart without a cart, got %v", err)
	}

	if _, err := cart.FetchWithItems(ctx, f.db, u.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.eng.PlaceOrder(ctx, u.ID); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart with an empty cart, got %v", err)
	}

	all, err := f.eng.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no orders, got %d", len(all))
	}
}

func TestPlaceOrderConcurrent(t *testing.T) {
	f := newDefaultFixture(t)
	ctx := context.Background()

	u := f.user(t, "buyer@example.com")
	p := f.product(t, "3.50", 5)
	f.add(t, u.ID, p.ID, 2)

	const callers = 5
	results := make([]error, callers)

	var g errgroup.Group
	for i := 0; i < callers; i++ {
		i := i
		g.Go(func() error {
			_, results[i] = f.eng.PlaceOrder(ctx, u.ID)
			return nil
		})
	}
	_ = g.Wait()

	var placed, empty int
	for _, err := range results {
		switch {
		case err == nil:
			placed++
		case errors.Is(err, ErrEmptyCart):
			empty++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if placed != 1 || empty != callers-1 {
		t.Fatalf("expected 1 order and %d empty carts, got %d and %d", callers-1, placed, empty)
	}

	orders, err := f.eng.ListForUser(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 || len(orders[0].Items) != 1 || orders[0].Items[0].Quantity != 2 {
		t.Fatalf("unexpected orders after concurrent checkout: %+v", orders)
	}
}

type failingCarts struct {
	cart.Repository
}

func (failingCarts) ClearItems(ctx context.Context, tx sqlx.ExtContext, cartID string) error {
	return errors.New("connection reset")
}

func TestPlaceOrderRollback(t *testing.T) {
	f := newFixture(t, failingCarts{}, product.StockStore{})
	ctx := context.Background()

	u := f.user(t, "buyer@example.com")
	p := f.product(t, "1.00", 5)
	f.add(t, u.ID, p.ID, 3)

	if _, err := f.eng.PlaceOrder(ctx, u.ID); err == nil {
		t.Fatal("expected checkout to fail")
	}

	orders, err := f.eng.ListForUser(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 0 {
		t.Fatalf("expected no orders after a failed checkout, got %d", len(orders))
	}

	n, err := cart.Count(ctx, f.db, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected the cart to keep its 3 items, got %d", n)
	}
}

func TestUpdateStatus(t *testing.T) {
	f := newDefaultFixture(t)
	ctx := context.Background()

	u := f.user(t, "buyer@example.com")
	p := f.product(t, "2.00", 10)
	f.add(t, u.ID, p.ID, 3)
	ord := f.place(t, u.ID)

	got := f.move(t, ord.ID, Confirmed)
	if got.Status != Confirmed || len(got.Items) != 1 {
		t.Fatalf("unexpected order after confirm: %+v", got)
	}
	if s := f.stock(t, p.ID); s != 7 {
		t.Fatalf("expected stock 7 after confirm, got %d", s)
	}
	if !got.UpdatedAt.Equal(got.UpdatedAt.Truncate(time.Microsecond)) || got.UpdatedAt.Before(ord.UpdatedAt) {
		t.Fatalf("unexpected updated_at after confirm: %s (placed %s)", got.UpdatedAt, ord.UpdatedAt)
	}

	confirmedHist, err := f.eng.History(ctx, ord.ID)
	if err != nil {
		t.Fatal(err)
	}
	if last := confirmedHist[len(confirmedHist)-1]; !last.CreatedAt.Equal(got.UpdatedAt) {
		t.Fatalf("history entry at %s, order updated at %s", last.CreatedAt, got.UpdatedAt)
	}

	for _, to := range []Status{Processing, Shipped, Delivered} {
		f.move(t, ord.ID, to)
	}
	if s := f.stock(t, p.ID); s != 7 {
		t.Fatalf("only confirm moves stock, got %d", s)
	}

	_, err = f.eng.UpdateStatus(ctx, ord.ID, StatusUp{Status: Cancelled})
	var terr *TransitionError
	if !errors.As(err, &terr) || terr.From != Delivered || terr.To != Cancelled {
		t.Fatalf("expected a transition error out of delivered, got %v", err)
	}

	hs, err := f.eng.History(ctx, ord.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := []Status{Pending, Confirmed, Processing, Shipped, Delivered}
	if len(hs) != len(want) {
		t.Fatalf("expected %d history entries, got %d", len(want), len(hs))
	}
	for i, h := range hs {
		if h.To != want[i] {
			t.Fatalf("history[%d]: expected %s, got %s", i, want[i], h.To)
		}
		if i > 0 && (h.From == nil || *h.From != want[i-1]) {
			t.Fatalf("history[%d]: expected from %s, got %v", i, want[i-1], h.From)
		}
	}
}

func TestUpdateStatusInvalid(t *testing.T) {
	f := newDefaultFixture(t)
	ctx := context.Background()

	u := f.user(t, "buyer@example.com")
	p := f.product(t, "2.00", 10)
	f.add(t, u.ID, p.ID, 1)
	ord := f.place(t, u.ID)

	for _, to := range []Status{Pending, Shipped, Delivered, Processing, "refunded"} {
		_, err := f.eng.UpdateStatus(ctx, ord.ID, StatusUp{Status: to})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("pending -> %s: expected ErrInvalidTransition, got %v", to, err)
		}
	}

	got, err := f.eng.Fetch(ctx, ord.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != Pending {
		t.Fatalf("rejected moves changed the status to %s", got.Status)
	}
}

func TestUpdateStatusNotFound(t *testing.T) {
	f := newDefaultFixture(t)
	ctx := context.Background()

	for _, id := range []string{validate.GenerateID(), "not-a-uuid", ""} {
		if _, err := f.eng.UpdateStatus(ctx, id, StatusUp{Status: Confirmed}); !errors.Is(err, ErrOrderNotFound) {
			t.Fatalf("id %q: expected ErrOrderNotFound, got %v", id, err)
		}
		if _, err := f.eng.Fetch(ctx, id); !errors.Is(err, ErrOrderNotFound) {
			t.Fatalf("id %q: expected ErrOrderNotFound on fetch, got %v", id, err)
		}
	}
}

func TestConfirmConcurrent(t *testing.T) {
	f := newDefaultFixture(t)
	ctx := context.Background()

	u := f.user(t, "buyer@example.com")
	p := f.product(t, "2.00", 10)
	f.add(t, u.ID, p.ID, 3)
	ord := f.place(t, u.ID)

	const callers = 6
	results := make([]error, callers)

	var g errgroup.Group
	for i := 0; i < callers; i++ {
		i := i
		g.Go(func() error {
			_, results[i] = f.eng.UpdateStatus(ctx, ord.ID, StatusUp{Status: Confirmed})
			return nil
		})
	}
	_ = g.Wait()

	var ok int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInvalidTransition):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one confirm to win, got %d", ok)
	}
	if s := f.stock(t, p.ID); s != 7 {
		t.Fatalf("expected stock decremented once to 7, got %d", s)
	}
}

func TestStockPolicy(t *testing.T) {
	t.Run("strict", func(t *testing.T) {
		f := newDefaultFixture(t)
		ctx := context.Background()

		u := f.user(t, "buyer@example.com")
		p := f.product(t, "2.00", 1)
		f.add(t, u.ID, p.ID, 2)
		ord := f.place(t, u.ID)

		_, err := f.eng.UpdateStatus(ctx, ord.ID, StatusUp{Status: Confirmed})
		if !errors.Is(err, product.ErrInsufficientStock) {
			t.Fatalf("expected ErrInsufficientStock, got %v", err)
		}

		got, err := f.eng.Fetch(ctx, ord.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != Pending {
			t.Fatalf("expected the order to stay pending, got %s", got.Status)
		}
		if s := f.stock(t, p.ID); s != 1 {
			t.Fatalf("expected stock untouched at 1, got %d", s)
		}

		hs, err := f.eng.History(ctx, ord.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(hs) != 1 {
			t.Fatalf("a failed confirm must not leave history, got %d entries", len(hs))
		}
	})

	t.Run("permissive", func(t *testing.T) {
		f := newFixture(t, cart.Repository{}, product.StockStore{AllowNegative: true})

		u := f.user(t, "buyer@example.com")
		p := f.product(t, "2.00", 1)
		f.add(t, u.ID, p.ID, 2)
		ord := f.place(t, u.ID)

		f.move(t, ord.ID, Confirmed)
		if s := f.stock(t, p.ID); s != -1 {
			t.Fatalf("expected stock -1, got %d", s)
		}
	})
}

// failingStock lets the first n decrements through and fails the rest.
type failingStock struct {
	product.StockStore
	n int
}

func (s *failingStock) DecrementStock(ctx context.Context, tx sqlx.ExtContext, productID string, qty int) error {
	if s.n == 0 {
		return errors.New("disk full")
	}
	s.n--
	return s.StockStore.DecrementStock(ctx, tx, productID, qty)
}

func TestConfirmRollback(t *testing.T) {
	f := newFixture(t, cart.Repository{}, &failingStock{n: 1})
	ctx := context.Background()

	u := f.user(t, "buyer@example.com")
	p1 := f.product(t, "1.00", 10)
	p2 := f.product(t, "2.00", 10)
	f.add(t, u.ID, p1.ID, 4)
	f.add(t, u.ID, p2.ID, 4)
	ord := f.place(t, u.ID)

	if _, err := f.eng.UpdateStatus(ctx, ord.ID, StatusUp{Status: Confirmed}); err == nil {
		t.Fatal("expected confirm to fail")
	}

	for _, id := range []string{p1.ID, p2.ID} {
		if s := f.stock(t, id); s != 10 {
			t.Fatalf("product[%s]: expected stock rolled back to 10, got %d", id, s)
		}
	}

	got, err := f.eng.Fetch(ctx, ord.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != Pending {
		t.Fatalf("expected pending after rollback, got %s", got.Status)
	}
}

func TestCancelRestoresStock(t *testing.T) {
	f := newDefaultFixture(t)

	u := f.user(t, "buyer@example.com")
	p := f.product(t, "2.00", 10)

	tests := []struct {
		path []Status
		want int
	}{
		{[]Status{Cancelled}, 10},
		{[]Status{Confirmed, Cancelled}, 10},
		{[]Status{Confirmed, Processing, Cancelled}, 10},
		{[]Status{Confirmed, Processing, Shipped, Cancelled}, 7},
	}

	for _, tt := range tests {
		before := f.stock(t, p.ID)

		f.add(t, u.ID, p.ID, 3)
		ord := f.place(t, u.ID)
		for _, to := range tt.path {
			f.move(t, ord.ID, to)
		}

		if got := before - f.stock(t, p.ID); got != 10-tt.want {
			t.Fatalf("%v: expected stock to drop by %d, dropped by %d", tt.path, 10-tt.want, got)
		}
	}
}

func TestListOrders(t *testing.T) {
	f := newDefaultFixture(t)
	ctx := context.Background()

	alice := f.user(t, "alice@example.com")
	bob := f.user(t, "bob@example.com")
	p1 := f.product(t, "1.00", 10)
	p2 := f.product(t, "2.00", 10)
	p3 := f.product(t, "3.00", 10)

	f.add(t, alice.ID, p1.ID, 1)
	f.add(t, alice.ID, p2.ID, 1)
	f.add(t, alice.ID, p3.ID, 1)
	first := f.place(t, alice.ID)

	f.add(t, bob.ID, p1.ID, 2)
	second := f.place(t, bob.ID)

	f.add(t, alice.ID, p2.ID, 5)
	third := f.place(t, alice.ID)

	mine, err := f.eng.ListForUser(ctx, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 || mine[0].ID != third.ID || mine[1].ID != first.ID {
		t.Fatalf("expected alice's orders newest first, got %+v", mine)
	}
	if len(mine[1].Items) != 3 {
		t.Fatalf("expected 3 lines on the first order, got %d", len(mine[1].Items))
	}
	for _, o := range mine {
		if o.UserEmail != "" {
			t.Fatalf("user listing leaked an email: %q", o.UserEmail)
		}
	}

	all, err := f.eng.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(all))
	emails := make(map[string]string)
	for i, o := range all {
		ids[i] = o.ID
		emails[o.ID] = o.UserEmail
	}
	if diff := cmp.Diff([]string{third.ID, second.ID, first.ID}, ids); diff != "" {
		t.Fatalf("unexpected admin listing order (-want +got):\n%s", diff)
	}
	if emails[second.ID] != "bob@example.com" || emails[first.ID] != "alice@example.com" {
		t.Fatalf("unexpected emails in admin listing: %v", emails)
	}

	lines := make([]string, 0, len(all[2].Items))
	for _, it := range all[2].Items {
		lines = append(lines, it.ProductID)
	}
	sort.Strings(lines)
	want := []string{p1.ID, p2.ID, p3.ID}
	sort.Strings(want)
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Fatalf("unexpected lines (-want +got):\n%s", diff)
	}
}
