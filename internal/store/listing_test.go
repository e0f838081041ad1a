package store

import (
	"context"
	"slices"
	"testing"

	"homeserver/internal/models"
)

func seedListing(t *testing.T, st *Store, owner models.PublicKey) {
	t.Helper()
	for _, p := range []string{
		"/pub/example.com/a.txt",
		"/pub/example.com/b.txt",
		"/pub/example.com/cc-nested/z.txt",
		"/pub/example.com/c.txt",
		"/pub/example.com/d.txt",
		"/pub/example.com/e/f/g.txt",
		"/pub/example.com/e/h.txt",
		"/pub/example.com0/outside.txt",
		"/pub/example.con/outside.txt",
		"/pub/file.txt",
	} {
		putInline(t, st, owner, p, []byte(p))
	}
}

func TestListDeep(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	owner := testOwner(t)
	seedListing(t, st, owner)
	dir := models.MustParsePath("/pub/example.com/")

	got, err := st.List(ctx, owner, dir, ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{
		"/pub/example.com/a.txt",
		"/pub/example.com/b.txt",
		"/pub/example.com/c.txt",
		"/pub/example.com/cc-nested/z.txt",
		"/pub/example.com/d.txt",
		"/pub/example.com/e/f/g.txt",
		"/pub/example.com/e/h.txt",
	}
	if !slices.Equal(got, want) {
		t.Fatalf("unexpected listing\n got %v\nwant %v", got, want)
	}

	got, err = st.List(ctx, owner, dir, ListOptions{Reverse: true})
	if err != nil {
		t.Fatalf("list reverse: %v", err)
	}
	slices.Reverse(want)
	if !slices.Equal(got, want) {
		t.Fatalf("unexpected reverse listing\n got %v\nwant %v", got, want)
	}
}

func TestListShallow(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	owner := testOwner(t)
	seedListing(t, st, owner)
	dir := models.MustParsePath("/pub/example.com/")

	got, err := st.List(ctx, owner, dir, ListOptions{Shallow: true})
	if err != nil {
		t.Fatalf("list shallow: %v", err)
	}
	want := []string{
		"/pub/example.com/a.txt",
		"/pub/example.com/b.txt",
		"/pub/example.com/c.txt",
		"/pub/example.com/cc-nested/",
		"/pub/example.com/d.txt",
		"/pub/example.com/e/",
	}
	if !slices.Equal(got, want) {
		t.Fatalf("unexpected shallow listing\n got %v\nwant %v", got, want)
	}

	got, err = st.List(ctx, owner, dir, ListOptions{Shallow: true, Reverse: true})
	if err != nil {
		t.Fatalf("list shallow reverse: %v", err)
	}
	slices.Reverse(want)
	if !slices.Equal(got, want) {
		t.Fatalf("unexpected shallow reverse listing\n got %v\nwant %v", got, want)
	}

	root, err := st.List(ctx, owner, models.MustParsePath("/pub/"), ListOptions{Shallow: true})
	if err != nil {
		t.Fatalf("list root: %v", err)
	}
	wantRoot := []string{"/pub/example.com/", "/pub/example.com0/", "/pub/example.con/", "/pub/file.txt"}
	if !slices.Equal(root, wantRoot) {
		t.Fatalf("unexpected root listing\n got %v\nwant %v", root, wantRoot)
	}
}

func TestListPaginationNoGapsOrDuplicates(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	owner := testOwner(t)
	seedListing(t, st, owner)
	dir := models.MustParsePath("/pub/example.com/")

	for _, tc := range []struct {
		name    string
		reverse bool
		shallow bool
	}{
		{name: "forward"},
		{name: "reverse", reverse: true},
		{name: "shallow", shallow: true},
		{name: "shallow reverse", reverse: true, shallow: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			full, err := st.List(ctx, owner, dir, ListOptions{Reverse: tc.reverse, Shallow: tc.shallow})
			if err != nil {
				t.Fatalf("full list: %v", err)
			}

			var paged []string
			cursor := ""
			for range len(full) + 1 {
				page, err := st.List(ctx, owner, dir, ListOptions{Reverse: tc.reverse, Shallow: tc.shallow, Limit: 2, Cursor: cursor})
				if err != nil {
					t.Fatalf("page: %v", err)
				}
				if len(page) > 2 {
					t.Fatalf("limit exceeded: %v", page)
				}
				if len(page) == 0 {
					break
				}
				paged = append(paged, page...)
				cursor = page[len(page)-1]
			}
			if !slices.Equal(paged, full) {
				t.Fatalf("pagination mismatch\n got %v\nwant %v", paged, full)
			}
		})
	}
}

func TestListCursorInsideSubdirectoryShallow(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	owner := testOwner(t)
	seedListing(t, st, owner)

	got, err := st.List(ctx, owner, models.MustParsePath("/pub/example.com/"), ListOptions{
		Shallow: true,
		Cursor:  "/pub/example.com/e/f/g.txt",
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected nothing after the last directory, got %v", got)
	}
}

func TestWalkStopsEarly(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	owner := testOwner(t)
	seedListing(t, st, owner)

	var seen []string
	for p, err := range st.Walk(ctx, owner, models.MustParsePath("/pub/"), ListOptions{}) {
		if err != nil {
			t.Fatalf("walk: %v", err)
		}
		seen = append(seen, p)
		if len(seen) == 3 {
			break
		}
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 items, got %v", seen)
	}
}

func TestContainsDirectory(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	owner := testOwner(t)
	seedListing(t, st, owner)

	for dir, want := range map[string]bool{
		"/pub/example.com/":   true,
		"/pub/example.com/e/": true,
		"/pub/example.co/":    false,
		"/pub/missing/":       false,
	} {
		got, err := st.ContainsDirectory(ctx, owner, models.MustParsePath(dir))
		if err != nil {
			t.Fatalf("contains %s: %v", dir, err)
		}
		if got != want {
			t.Fatalf("contains %s: expected %v, got %v", dir, want, got)
		}
	}

	other := testOwner(t)
	got, err := st.ContainsDirectory(ctx, other, models.MustParsePath("/pub/"))
	if err != nil {
		t.Fatalf("contains for other owner: %v", err)
	}
	if got {
		t.Fatal("listing must be scoped to the owner")
	}
}
