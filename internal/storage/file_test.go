package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"log/slog"

	"github.com/rgaudreau/dealstalker/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level: slog.LevelError,
}))

func fp(v float64) *float64 { return &v }

func makeListing(asin, title string, price float64) *types.Listing {
	return &types.Listing{
		ASIN:          asin,
		Title:         title,
		Brand:         strings.Fields(title)[0],
		PriceCurrent:  fp(price),
		PriceOriginal: fp(price),
		ProductURL:    "https://www.amazon.ca/dp/" + asin,
		Category:      "electronics",
		Site:          "amazon_ca",
		ScrapedAt:     time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

// --- JSON ---

func TestJSONStorageWritesTimestampedAndLatest(t *testing.T) {
	dir := t.TempDir()

	s, err := NewJSONStorage(dir, "amazon_ca", testLogger)
	if err != nil {
		t.Fatalf("NewJSONStorage: %v", err)
	}
	if err := s.Store([]*types.Listing{
		makeListing("B000AAAA01", "Sony Headphones", 199.99),
		makeListing("B000AAAA02", "Anker Charger", 25.49),
	}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected timestamped file plus latest alias, got %d files", len(entries))
	}

	data, err := os.ReadFile(filepath.Join(dir, "amazon_ca_latest.json"))
	if err != nil {
		t.Fatalf("read latest alias: %v", err)
	}
	var got []*types.Listing
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode latest alias: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(got))
	}
	if got[0].ASIN != "B000AAAA01" || got[1].ASIN != "B000AAAA02" {
		t.Errorf("listing order not preserved: %q, %q", got[0].ASIN, got[1].ASIN)
	}
	if got[0].PriceCurrent == nil || *got[0].PriceCurrent != 199.99 {
		t.Errorf("price did not round-trip: %v", got[0].PriceCurrent)
	}
}

func TestJSONStorageEmptyRunWritesEmptyArray(t *testing.T) {
	dir := t.TempDir()

	s, err := NewJSONStorage(dir, "amazon_ca", testLogger)
	if err != nil {
		t.Fatalf("NewJSONStorage: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "amazon_ca_latest.json"))
	if err != nil {
		t.Fatalf("read latest alias: %v", err)
	}
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("expected empty array, got %q", string(data))
	}
}

// --- JSONL ---

func TestJSONLStorageStreamsOnePerLine(t *testing.T) {
	dir := t.TempDir()

	s, err := NewJSONLStorage(dir, "amazon_ca", testLogger)
	if err != nil {
		t.Fatalf("NewJSONLStorage: %v", err)
	}
	if err := s.Store([]*types.Listing{
		makeListing("B000AAAA01", "Sony Headphones", 199.99),
		makeListing("B000AAAA02", "Anker Charger", 25.49),
	}); err != nil {
		t.Fatalf("Store first batch: %v", err)
	}
	if err := s.Store([]*types.Listing{
		makeListing("B000AAAA03", "Logitech Mouse", 49.99),
	}); err != nil {
		t.Fatalf("Store second batch: %v", err)
	}
	path := s.path
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}

	var last types.Listing
	if err := json.Unmarshal([]byte(lines[2]), &last); err != nil {
		t.Fatalf("decode last line: %v", err)
	}
	if last.ASIN != "B000AAAA03" {
		t.Errorf("expected B000AAAA03 on last line, got %q", last.ASIN)
	}
}

// --- CSV ---

func TestCSVStorageSortedHeaders(t *testing.T) {
	dir := t.TempDir()

	s, err := NewCSVStorage(dir, "amazon_ca", testLogger)
	if err != nil {
		t.Fatalf("NewCSVStorage: %v", err)
	}
	if err := s.Store([]*types.Listing{
		makeListing("B000AAAA01", "Sony Headphones", 199.99),
		makeListing("B000AAAA02", "Anker Charger", 25.49),
	}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	path := s.path
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d rows", len(rows))
	}

	want := make([]string, 0)
	for k := range makeListing("x", "x y", 1).ToFlatMap() {
		want = append(want, k)
	}
	sort.Strings(want)
	if len(rows[0]) != len(want) {
		t.Fatalf("header width = %d, want %d", len(rows[0]), len(want))
	}
	for i, h := range want {
		if rows[0][i] != h {
			t.Errorf("header[%d] = %q, want %q", i, rows[0][i], h)
		}
	}

	priceCol := -1
	for i, h := range rows[0] {
		if h == "price_current" {
			priceCol = i
		}
	}
	if priceCol == -1 {
		t.Fatal("price_current column missing")
	}
	if rows[1][priceCol] != "199.99" {
		t.Errorf("price cell = %q, want %q", rows[1][priceCol], "199.99")
	}
}

// --- Factory ---

func TestNewFileStorageUnknownType(t *testing.T) {
	_, err := NewFileStorage("parquet", t.TempDir(), "amazon_ca", testLogger)
	if err == nil {
		t.Fatal("expected error for unknown storage type")
	}
	if !errors.Is(err, types.ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid, got %v", err)
	}
}

// --- Multi fan-out ---

type recordingStorage struct {
	name   string
	stored int
	err    error
	closed bool
}

func (r *recordingStorage) Name() string { return r.name }

func (r *recordingStorage) Store(listings []*types.Listing) error {
	r.stored += len(listings)
	return r.err
}

func (r *recordingStorage) Close() error {
	r.closed = true
	return nil
}

func TestMultiStorageFanOut(t *testing.T) {
	bad := &recordingStorage{name: "bad", err: errors.New("disk full")}
	good := &recordingStorage{name: "good"}

	multi := NewMultiStorage([]Storage{bad, good}, testLogger)
	err := multi.Store([]*types.Listing{makeListing("B000AAAA01", "Sony Headphones", 199.99)})
	if err == nil {
		t.Fatal("expected first backend error to surface")
	}
	if good.stored != 1 {
		t.Errorf("healthy backend skipped: stored=%d", good.stored)
	}

	if err := multi.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !bad.closed || !good.closed {
		t.Error("not all backends closed")
	}
}
