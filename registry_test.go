package revcache

import (
	"context"
	"testing"
)

// TestLoaderGroupIsolation: two loaders keyed on the same argument never
// share entries.
func TestLoaderGroupIsolation(t *testing.T) {
	r := newTestRegistry(t, nil)

	a := Register(r, "a", func(c *Ctx, n int) (int, error) { return n + 1, nil })
	b := Register(r, "b", func(c *Ctx, n int) (int, error) { return n + 2, nil })

	if a.Key(7) != b.Key(7) {
		t.Fatalf("same argument must derive the same key: %q vs %q", a.Key(7), b.Key(7))
	}

	va, err := a.Get(context.Background(), 7)
	if err != nil {
		t.Fatalf("a: %v", err)
	}
	vb, err := b.Get(context.Background(), 7)
	if err != nil {
		t.Fatalf("b: %v", err)
	}
	if va != 8 || vb != 9 {
		t.Fatalf("got %d/%d, want 8/9", va, vb)
	}
}

func TestRemoveGroupDisposesAll(t *testing.T) {
	r := newTestRegistry(t, nil)

	loads := 0
	ref := Register(r, "items", func(c *Ctx, n int) (int, error) {
		loads++
		return n, nil
	})
	keep := Register(r, "keep", func(c *Ctx, n int) (int, error) { return n, nil })

	e0 := ref.Entry(0)
	e1 := ref.Entry(1)
	ek := keep.Entry(0)
	for _, e := range []Entry[int]{e0, e1, ek} {
		if _, err := e.Wait(context.Background()); err != nil {
			t.Fatalf("settle: %v", err)
		}
	}

	r.RemoveGroup(ref, nil)

	if ref.Entry(0) == e0 || ref.Entry(1) == e1 {
		t.Fatal("removed group entries must not be reused")
	}
	if keep.Entry(0) != ek {
		t.Fatal("RemoveGroup must not touch other loaders")
	}
	waitUntil(t, "fresh loads after group removal", func() bool { return loads >= 4 })
}

// TestRemoveGroupCallback hands entries to the caller instead of disposing
// them, so the caller picks the teardown (here: revalidate).
func TestRemoveGroupCallback(t *testing.T) {
	r := newTestRegistry(t, nil)

	ref := Register(r, "items", func(c *Ctx, n int) (int, error) { return n * 10, nil })
	e0 := ref.Entry(0)
	e1 := ref.Entry(1)
	if _, err := e0.Wait(context.Background()); err != nil {
		t.Fatalf("e0: %v", err)
	}
	if _, err := e1.Wait(context.Background()); err != nil {
		t.Fatalf("e1: %v", err)
	}

	seen := 0
	r.RemoveGroup(ref, func(h AnyEntry) {
		seen++
		h.Revalidate()
	})
	if seen != 2 {
		t.Fatalf("callback saw %d entries, want 2", seen)
	}
	if ref.Entry(0) == e0 || ref.Entry(1) == e1 {
		t.Fatal("revalidated entries must be recreated on next access")
	}
}

func TestRemoveGroupEmpty(t *testing.T) {
	r := newTestRegistry(t, nil)
	ref := Register(r, "never-used", func(c *Ctx, n int) (int, error) { return n, nil })
	r.RemoveGroup(ref, nil) // no group yet, must not panic
	r.RemoveGroup(ref, func(AnyEntry) { t.Fatal("callback on empty group") })
}

func TestClearAllDropsEveryGroup(t *testing.T) {
	r := newTestRegistry(t, nil)

	a := Register(r, "a", func(c *Ctx, n int) (int, error) { return n, nil })
	b := Register(r, "b", func(c *Ctx, s string) (string, error) { return s, nil })
	ea := a.Entry(1)
	eb := b.Entry("x")
	if _, err := ea.Wait(context.Background()); err != nil {
		t.Fatalf("ea: %v", err)
	}
	if _, err := eb.Wait(context.Background()); err != nil {
		t.Fatalf("eb: %v", err)
	}

	r.ClearAll()

	if !ea.internal().isRemoved() || !eb.internal().isRemoved() {
		t.Fatal("ClearAll must dispose every entry")
	}
	if a.Entry(1) == ea || b.Entry("x") == eb {
		t.Fatal("cleared entries must not be reused")
	}
}

func TestDefaultRegistry(t *testing.T) {
	if Default() != Default() {
		t.Fatal("Default must be stable")
	}
	ref := Register(Default(), "default-reg-probe", func(c *Ctx, n int) (int, error) { return n, nil })
	e := ref.Entry(1)
	if _, err := e.Wait(context.Background()); err != nil {
		t.Fatalf("settle: %v", err)
	}
	ClearAll()
	if !e.internal().isRemoved() {
		t.Fatal("package ClearAll must reset the default registry")
	}
}
