package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"log/slog"

	"github.com/rgaudreau/dealstalker/internal/types"
)

// outputPath builds a timestamped file name scoped to the site, so
// consecutive runs never clobber each other.
func outputPath(dir, site, ext string) string {
	stamp := time.Now().Format("20060102_150405")
	return filepath.Join(dir, fmt.Sprintf("%s_%s.%s", site, stamp, ext))
}

// --- JSON Storage ---

// JSONStorage buffers listings and writes them as a JSON array on
// Close: once to a timestamped file and once to a stable
// "<site>_latest.json" alias that downstream consumers can poll.
type JSONStorage struct {
	dir      string
	site     string
	listings []*types.Listing
	mu       sync.Mutex
	logger   *slog.Logger
}

// NewJSONStorage creates a new JSON file storage.
func NewJSONStorage(outputDir, site string, logger *slog.Logger) (*JSONStorage, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	return &JSONStorage{
		dir:      outputDir,
		site:     site,
		listings: make([]*types.Listing, 0),
		logger:   logger.With("component", "json_storage"),
	}, nil
}

func (s *JSONStorage) Name() string { return "json" }

func (s *JSONStorage) Store(listings []*types.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings = append(s.listings, listings...)
	s.logger.Debug("listings buffered", "count", len(listings), "total", len(s.listings))
	return nil
}

func (s *JSONStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := outputPath(s.dir, s.site, "json")
	if err := s.writeTo(path); err != nil {
		return err
	}
	latest := filepath.Join(s.dir, s.site+"_latest.json")
	if err := s.writeTo(latest); err != nil {
		return err
	}

	s.logger.Info("JSON written", "path", path, "listings", len(s.listings))
	return nil
}

func (s *JSONStorage) writeTo(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.listings); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	return nil
}

// --- JSONL Storage ---

// JSONLStorage writes listings as newline-delimited JSON (one object per line).
type JSONLStorage struct {
	path   string
	file   *os.File
	enc    *json.Encoder
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

// NewJSONLStorage creates a new JSONL file storage (streaming writes).
func NewJSONLStorage(outputDir, site string, logger *slog.Logger) (*JSONLStorage, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	path := outputPath(outputDir, site, "jsonl")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}

	return &JSONLStorage{
		path:   path,
		file:   f,
		enc:    json.NewEncoder(f),
		logger: logger.With("component", "jsonl_storage"),
	}, nil
}

func (s *JSONLStorage) Name() string { return "jsonl" }

func (s *JSONLStorage) Store(listings []*types.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range listings {
		if err := s.enc.Encode(l); err != nil {
			return fmt.Errorf("encode JSONL: %w", err)
		}
		s.count++
	}
	return nil
}

func (s *JSONLStorage) Close() error {
	s.logger.Info("JSONL written", "path", s.path, "listings", s.count)
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// --- CSV Storage ---

// CSVStorage writes listings as CSV rows.
type CSVStorage struct {
	path    string
	file    *os.File
	writer  *csv.Writer
	headers []string
	mu      sync.Mutex
	count   int
	logger  *slog.Logger
}

// NewCSVStorage creates a new CSV file storage.
func NewCSVStorage(outputDir, site string, logger *slog.Logger) (*CSVStorage, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	path := outputPath(outputDir, site, "csv")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}

	return &CSVStorage{
		path:   path,
		file:   f,
		writer: csv.NewWriter(f),
		logger: logger.With("component", "csv_storage"),
	}, nil
}

func (s *CSVStorage) Name() string { return "csv" }

func (s *CSVStorage) Store(listings []*types.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range listings {
		flat := l.ToFlatMap()

		// Detect headers on first listing
		if s.headers == nil {
			s.headers = make([]string, 0, len(flat))
			for k := range flat {
				s.headers = append(s.headers, k)
			}
			sort.Strings(s.headers)

			// Write header row
			if err := s.writer.Write(s.headers); err != nil {
				return fmt.Errorf("write CSV header: %w", err)
			}
		}

		// Write row
		row := make([]string, len(s.headers))
		for i, h := range s.headers {
			row[i] = flat[h]
		}
		if err := s.writer.Write(row); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
		s.count++
	}

	s.writer.Flush()
	return s.writer.Error()
}

func (s *CSVStorage) Close() error {
	s.logger.Info("CSV written", "path", s.path, "listings", s.count)
	if s.writer != nil {
		s.writer.Flush()
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// NewFileStorage creates the appropriate file-based storage by type.
func NewFileStorage(storageType, outputDir, site string, logger *slog.Logger) (Storage, error) {
	switch storageType {
	case "json":
		return NewJSONStorage(outputDir, site, logger)
	case "jsonl":
		return NewJSONLStorage(outputDir, site, logger)
	case "csv":
		return NewCSVStorage(outputDir, site, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported file storage type %q", types.ErrConfigInvalid, storageType)
	}
}
