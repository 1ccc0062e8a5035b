package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/wudi/pdfdeck/config"
	"github.com/wudi/pdfdeck/pdftest"
)

func TestParsePages(t *testing.T) {
	got, err := parsePages(" 2, 6,9-11,,")
	if err != nil || fmt.Sprint(got) != "[2 6 9 10 11]" {
		t.Fatalf("parsePages = %v, %v", got, err)
	}
	for _, bad := range []string{"x", "3-1", "4-", "1,two"} {
		if _, err := parsePages(bad); err == nil {
			t.Fatalf("%q should be rejected", bad)
		}
	}
}

func TestSafeName(t *testing.T) {
	if got := safeName(`a/b:c?.pdf`); got != "a_b_c_.pdf" {
		t.Fatalf("safeName = %q", got)
	}
	if safeName("") != "unnamed" {
		t.Fatalf("empty name")
	}
}

func TestNewAppWithoutStore(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Store.Path = filepath.Join(dir, "missing", "session.db")
	cfg.OCR.Enabled = false

	a, err := newApp(cfg)
	if err != nil {
		t.Fatalf("newApp should run without a store: %v", err)
	}
	defer a.close()
	if a.store != nil {
		t.Fatalf("store should be nil when it cannot be opened")
	}

	path := filepath.Join(dir, "doc.pdf")
	data := pdftest.Build(t, []string{"first page"}, []string{"the zephyr clause"})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	ctx := context.Background()
	st, err := a.open(ctx, []string{path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if st.Total() != 2 {
		t.Fatalf("total pages = %d", st.Total())
	}
	res, err := a.ctl.Search(ctx, "zephyr")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || res[0].GlobalPage != 2 {
		t.Fatalf("search results = %+v", res)
	}
	if _, err := a.open(ctx, nil); err == nil {
		t.Fatalf("restore needs a store")
	}
}
