package filestore

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/prtr-penalty-etl/internal/domain"
)

// Problem is one integrity failure found by Verify.
type Problem struct {
	Path   string
	Reason string
}

// Report summarizes a Verify walk.
type Report struct {
	Files    int
	Problems []Problem
}

func (r *Report) add(path, format string, args ...any) {
	r.Problems = append(r.Problems, Problem{Path: path, Reason: fmt.Sprintf(format, args...)})
}

// OK reports whether no problems were found.
func (r Report) OK() bool { return len(r.Problems) == 0 }

// Verify walks the stored tree and checks that every record file decodes,
// carries a valid created_at stamp and lives at the path its identity
// resolves to. Only a failure to walk the tree is returned as an error.
func Verify(base string) (Report, error) {
	var rep Report
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}
		rep.Files++
		verifyFile(base, path, &rep)
		return nil
	})
	if err != nil {
		return rep, fmt.Errorf("walk %s: %w", base, err)
	}
	return rep, nil
}

func verifyFile(base, path string, rep *Report) {
	data, err := os.ReadFile(path)
	if err != nil {
		rep.add(path, "read: %v", err)
		return
	}
	var rec domain.RawRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		rep.add(path, "decode: %v", err)
		return
	}

	if _, err := time.Parse(createdAtLayout, rec[CreatedAtField]); err != nil {
		rep.add(path, "missing or malformed %s", CreatedAtField)
	}

	id, ok := domain.FindUniqueID(rec)
	if !ok {
		rep.add(path, "no unique id")
		return
	}
	ident, ok := domain.ParseUniqueID(id, rec)
	if !ok {
		rep.add(path, "unparseable id %q", id)
		return
	}
	if want := FilePath(base, ident); filepath.Clean(want) != filepath.Clean(path) {
		rep.add(path, "id %s belongs at %s", id, want)
	}
}
