package filestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/prtr-penalty-etl/internal/domain"
)

// CreatedAtField is added to every stored record.
const CreatedAtField = "created_at"

const createdAtLayout = "2006-01-02 15:04:05"

// SaveResult summarizes one Save call.
type SaveResult struct {
	SavedPaths     []string
	Saved          []Saved
	Errors         []string
	Skipped        int // records without a derivable or parseable id
	TotalProcessed int
}

// Saved pairs a written record with its id and path.
type Saved struct {
	UniqueID string
	Path     string
	Record   domain.RawRecord
}

// Store writes one JSON file per record under a base directory. It is the
// only writer of that tree; existing files are replaced wholesale.
type Store struct {
	base   string
	clock  clockwork.Clock
	loc    *time.Location
	logger *slog.Logger
}

// New creates the base directory and returns a Store rooted at it.
func New(base string, clock clockwork.Clock, loc *time.Location, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", base, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Store{base: base, clock: clock, loc: loc, logger: logger}, nil
}

// Base returns the store's root directory.
func (s *Store) Base() string { return s.base }

// Save writes each record to its identity-derived path. Records without a
// usable id are skipped; per-record failures are collected in Errors and
// never stop the batch.
func (s *Store) Save(records []domain.RawRecord) SaveResult {
	res := SaveResult{TotalProcessed: len(records)}

	for i, rec := range records {
		id, strategy, ok := domain.FindUniqueIDStrategy(rec)
		if !ok {
			s.logger.Warn("skipping record without unique id", "index", i)
			res.Skipped++
			continue
		}
		ident, ok := domain.ParseUniqueID(id, rec)
		if !ok {
			s.logger.Warn("skipping record with unparseable id", "index", i, "id", id, "strategy", strategy)
			res.Skipped++
			continue
		}
		if ident.County != "" && SanitizeCounty(ident.County) == "" {
			s.logger.Warn("county has no letters or digits, storing under the legacy layout",
				"id", id, "county", ident.County)
		}

		path := FilePath(s.base, ident)
		if err := s.write(path, rec); err != nil {
			s.logger.Error("write record failed", "id", id, "path", path, "error", err)
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		s.logger.Debug("record saved", "id", id, "strategy", strategy, "path", path)
		res.SavedPaths = append(res.SavedPaths, path)
		res.Saved = append(res.Saved, Saved{UniqueID: id, Path: path, Record: rec})
	}
	return res
}

func (s *Store) write(path string, rec domain.RawRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	out := make(map[string]string, len(rec)+1)
	for k, v := range rec {
		out[k] = v
	}
	out[CreatedAtField] = s.clock.Now().In(s.loc).Format(createdAtLayout)

	data, err := marshalRecord(out)
	if err != nil {
		return fmt.Errorf("serialize: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// marshalRecord renders pretty JSON with literal non-ASCII text and without
// HTML escaping.
func marshalRecord(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Exists reports whether a file is stored for uniqueID. Without the record's
// date fields the year comes from the id's embedded ROC year.
func (s *Store) Exists(uniqueID string) bool {
	ident, ok := domain.ParseUniqueID(uniqueID, nil)
	if !ok {
		return false
	}
	_, err := os.Stat(FilePath(s.base, ident))
	return err == nil
}

// FilePath builds base/[county/]year/agency/sequence.json for an identity.
func FilePath(base string, id domain.Identity) string {
	parts := []string{base}
	if county := SanitizeCounty(id.County); county != "" {
		parts = append(parts, county)
	}
	parts = append(parts, strconv.Itoa(id.ResolvedYear), id.AgencyCode, id.SequenceCode+".json")
	return filepath.Join(parts...)
}

// SanitizeCounty keeps letters and digits of any script, turning each run of
// other characters into a single underscore and trimming underscores at the
// ends.
func SanitizeCounty(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// Clear removes everything stored under the base directory except the lock
// file, leaving an empty tree for a full rebuild.
func (s *Store) Clear() error {
	entries, err := os.ReadDir(s.base)
	if err != nil {
		return fmt.Errorf("read data dir %s: %w", s.base, err)
	}
	for _, e := range entries {
		if e.Name() == lockFileName {
			continue
		}
		if err := RemoveTree(filepath.Join(s.base, e.Name())); err != nil {
			return err
		}
	}
	s.logger.Info("data dir cleared", "base", s.base, "entries", len(entries))
	return nil
}

// RemoveTree deletes an owned directory and everything below it. A missing
// path is not an error.
func RemoveTree(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
