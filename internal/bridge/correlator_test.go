package bridge

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestCorrelatorIDsMonotonic(t *testing.T) {
	c := newCorrelator(false)
	var prev uint64
	for i := 0; i < 100; i++ {
		cl, err := c.register("m")
		if err != nil {
			t.Fatal(err)
		}
		if cl.id <= prev {
			t.Fatalf("id %d not greater than %d", cl.id, prev)
		}
		prev = cl.id
	}
	if c.count() != 100 {
		t.Fatalf("pending count %d", c.count())
	}
}

func TestCorrelatorResolveExactlyOnce(t *testing.T) {
	c := newCorrelator(false)
	cl, _ := c.register("m")
	if !c.resolve(cl.id, json.RawMessage(`"ok"`), nil) {
		t.Fatal("first resolve should succeed")
	}
	if c.resolve(cl.id, json.RawMessage(`"again"`), nil) {
		t.Fatal("second resolve must find nothing")
	}
	o := <-cl.done
	if string(o.result) != `"ok"` {
		t.Fatalf("outcome %q", o.result)
	}
}

func TestCorrelatorUnknownID(t *testing.T) {
	c := newCorrelator(false)
	if c.resolve(999, nil, nil) {
		t.Fatal("unknown id must not resolve")
	}
}

func TestCorrelatorCancelBeatsLateResponse(t *testing.T) {
	c := newCorrelator(false)
	cl, _ := c.register("m")
	if !c.cancel(cl.id) {
		t.Fatal("cancel should find the entry")
	}
	// The late response sees an already-resolved id.
	if c.resolve(cl.id, json.RawMessage(`"late"`), nil) {
		t.Fatal("late response must be discarded")
	}
	select {
	case o := <-cl.done:
		t.Fatalf("cancelled call must not complete, got %+v", o)
	default:
	}
}

func TestCorrelatorFailAll(t *testing.T) {
	c := newCorrelator(false)
	var calls []*call
	for i := 0; i < 5; i++ {
		cl, _ := c.register("m")
		calls = append(calls, cl)
	}
	errConn := &ConnectionError{Reason: "connection lost"}
	if n := c.failAll(errConn); n != 5 {
		t.Fatalf("failed %d, want 5", n)
	}
	if c.count() != 0 {
		t.Fatalf("pending not cleared: %d", c.count())
	}
	for i, cl := range calls {
		o := <-cl.done
		if o.err != errConn {
			t.Fatalf("call %d: got %v", i, o.err)
		}
	}
	// Second failAll finds nothing to complete twice.
	if n := c.failAll(errConn); n != 0 {
		t.Fatalf("second failAll completed %d", n)
	}
}

func TestCorrelatorFailAllConcurrentWithRegister(t *testing.T) {
	c := newCorrelator(false)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				cl, err := c.register("m")
				if err != nil {
					continue
				}
				o := <-cl.done
				if o.err == nil {
					t.Error("expected failure outcome")
				}
			}
		}()
	}
	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()
	// Sweep until every worker has seen all its registrations fail.
	for {
		c.failAll(&ConnectionError{Reason: "drop"})
		select {
		case <-workersDone:
			if c.count() != 0 {
				t.Fatalf("pending left after workers exited: %d", c.count())
			}
			return
		default:
		}
	}
}

func TestCorrelatorImplicitSingleExchange(t *testing.T) {
	c := newCorrelator(true)
	cl, err := c.register("chat")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.register("chat"); err != ErrExchangeInFlight {
		t.Fatalf("expected ErrExchangeInFlight, got %v", err)
	}
	if !c.resolveOldest(json.RawMessage(`"done"`), nil) {
		t.Fatal("resolveOldest should complete the exchange")
	}
	o := <-cl.done
	if string(o.result) != `"done"` {
		t.Fatalf("outcome %q", o.result)
	}
	if c.resolveOldest(nil, nil) {
		t.Fatal("nothing left to resolve")
	}
}
