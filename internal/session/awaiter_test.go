package session

import "testing"

func TestAwaiterTableResolveDeliversResult(t *testing.T) {
	t.Parallel()
	tbl := newAwaiterTable()
	ch := tbl.register(5)

	if !tbl.resolve(5, "ok-value", nil) {
		t.Fatal("resolve reported no waiter for registered id")
	}
	res := <-ch
	if res.ok != "ok-value" || res.err != nil {
		t.Fatalf("got %+v, want ok-value/nil", res)
	}
	if _, stillPending := tbl.pending[5]; stillPending {
		t.Fatal("resolved entry should be removed from pending")
	}
}

func TestAwaiterTableResolveUnknownIDReportsFalse(t *testing.T) {
	t.Parallel()
	tbl := newAwaiterTable()
	if tbl.resolve(99, nil, nil) {
		t.Fatal("resolve should report false for an id with no waiter")
	}
}

func TestAwaiterTableForgetRemovesWithoutDelivering(t *testing.T) {
	t.Parallel()
	tbl := newAwaiterTable()
	tbl.register(1)
	tbl.forget(1)
	if tbl.resolve(1, nil, nil) {
		t.Fatal("resolve should report false after forget")
	}
}

func TestAwaiterTableResolveAllDeliversErrToEveryWaiter(t *testing.T) {
	t.Parallel()
	tbl := newAwaiterTable()
	ch1 := tbl.register(1)
	ch2 := tbl.register(2)

	sentinel := errSentinel{}
	tbl.resolveAll(sentinel)

	r1 := <-ch1
	r2 := <-ch2
	if r1.err != sentinel || r2.err != sentinel {
		t.Fatalf("expected both waiters to receive sentinel error, got %v, %v", r1.err, r2.err)
	}
	if len(tbl.pending) != 0 {
		t.Fatalf("pending map should be empty after resolveAll, has %d entries", len(tbl.pending))
	}
}

type errSentinel struct{}

func (errSentinel) Error() string { return "sentinel" }
