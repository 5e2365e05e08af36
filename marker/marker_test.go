package marker

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryAdvance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("1.0.0")

	ok, err := m.Advance(ctx, "1.1.0")
	if err != nil || !ok {
		t.Fatalf("Advance(1.1.0) = %v, %v; want true, nil", ok, err)
	}
	cur, _ := m.Current(ctx)
	if cur != "1.1.0" {
		t.Fatalf("marker = %q, want 1.1.0", cur)
	}

	// Equal and older versions must not land.
	for _, v := range []string{"1.1.0", "1.0.5", "0.9.0"} {
		ok, err := m.Advance(ctx, v)
		if err != nil {
			t.Fatalf("Advance(%s): %v", v, err)
		}
		if ok {
			t.Fatalf("Advance(%s) advanced past 1.1.0", v)
		}
	}
}

func TestMemoryAdvanceFromEmpty(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("")
	ok, err := m.Advance(ctx, "0.1.0")
	if err != nil || !ok {
		t.Fatalf("Advance from empty = %v, %v; want true, nil", ok, err)
	}
}

// Two publishes finishing out of order must leave the marker at the highest
// version, regardless of which goroutine wins the race.
func TestAdvanceOutOfOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("1.0.0")

	var wg sync.WaitGroup
	for _, v := range []string{"1.2.0", "1.1.0"} {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			if _, err := m.Advance(ctx, v); err != nil {
				t.Errorf("Advance(%s): %v", v, err)
			}
		}(v)
	}
	wg.Wait()

	cur, _ := m.Current(ctx)
	if cur != "1.2.0" {
		t.Fatalf("marker = %q after out-of-order publishes, want 1.2.0", cur)
	}
}

func TestAdvanceRejectsGarbage(t *testing.T) {
	m := NewMemory("1.0.0")
	if _, err := m.Advance(context.Background(), "not-a-version"); err == nil {
		t.Fatal("expected error for unparseable version")
	}
}
