package domain

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// RawRecord is one penalty entry as returned upstream, keyed by the source's
// own field names. Every value is text.
type RawRecord map[string]string

// Identity is derived from a RawRecord and drives the stored file's path.
type Identity struct {
	OriginalID      string
	County          string // empty for legacy records
	DocumentNo      string
	AgencyCode      string
	FilingYearLocal string
	ResolvedYear    int
	SequenceCode    string
}

// Field names of the current JSON API.
const (
	FieldCounty         = "COUNTY"
	FieldDocumentNo     = "DOCUMENTNO"
	FieldPenaltyDate    = "PENALTYDATE"
	FieldTransgressDate = "TRANSGRESSDATE"
	FieldUpdateTime     = "UPDATETIME"
)

// ROCEraOffset converts a Republic of China calendar year to the Gregorian year.
const ROCEraOffset = 1911

var (
	legacyIDFields = []string{"裁處書字號", "處分書字號", "裁處書文號", "處分文號", "文號", FieldDocumentNo}

	newDateFields    = []string{FieldPenaltyDate, FieldTransgressDate, FieldUpdateTime}
	legacyDateFields = []string{"裁處日期", "處分日期", "違反日期", "更新日期"}

	documentNoRe = regexp.MustCompile(`\d+-\d+-\d+`)
	identityRe   = regexp.MustCompile(`^(\d+)-(\d+)-(\d+)$`)

	gregorianDateRe = regexp.MustCompile(`^(\d{4})[/-]`)
	localYearRe     = regexp.MustCompile(`^(\d{2,3})/`)
	leadingYearRe   = regexp.MustCompile(`^(\d{4})`)
)

// idStrategy is one way of locating a unique id in a record.
type idStrategy struct {
	name string
	find func(RawRecord) (string, bool)
}

var idStrategies = []idStrategy{
	{name: "new-format", find: countyDocumentID},
	{name: "legacy-column", find: legacyColumnID},
	{name: "any-field", find: anyFieldID},
}

// FindUniqueID derives the record's unique id, trying the current API shape
// first, then the legacy CSV columns, then any field that looks like a
// document number.
func FindUniqueID(rec RawRecord) (string, bool) {
	id, _, ok := findUniqueID(rec)
	return id, ok
}

// FindUniqueIDStrategy is FindUniqueID that also reports which strategy
// matched, for logging.
func FindUniqueIDStrategy(rec RawRecord) (id, strategy string, ok bool) {
	return findUniqueID(rec)
}

func findUniqueID(rec RawRecord) (string, string, bool) {
	for _, s := range idStrategies {
		if id, ok := s.find(rec); ok {
			return id, s.name, true
		}
	}
	return "", "", false
}

func countyDocumentID(rec RawRecord) (string, bool) {
	county := rec.Get(FieldCounty)
	docNo := rec.Get(FieldDocumentNo)
	if county == "" || docNo == "" {
		return "", false
	}
	return county + "_" + docNo, true
}

func legacyColumnID(rec RawRecord) (string, bool) {
	for _, f := range legacyIDFields {
		if m := documentNoRe.FindString(rec.Get(f)); m != "" {
			return m, true
		}
	}
	return "", false
}

func anyFieldID(rec RawRecord) (string, bool) {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if isDateField(k) {
			continue
		}
		if m := documentNoRe.FindString(rec[k]); m != "" {
			return m, true
		}
	}
	return "", false
}

// isDateField reports whether k holds a date, whose dashes would otherwise
// look like a document number.
func isDateField(k string) bool {
	if strings.EqualFold(k, "created_at") {
		return true
	}
	for _, f := range newDateFields {
		if strings.EqualFold(k, f) {
			return true
		}
	}
	for _, f := range legacyDateFields {
		if k == f {
			return true
		}
	}
	return false
}

// ParseUniqueID splits an id produced by FindUniqueID into its components.
// rec supplies the explicit date fields used to resolve the Gregorian year;
// it may be nil, in which case the document-embedded year is converted.
func ParseUniqueID(id string, rec RawRecord) (Identity, bool) {
	ident := Identity{OriginalID: id, DocumentNo: id}
	if county, docNo, found := strings.Cut(id, "_"); found {
		ident.County = county
		ident.DocumentNo = docNo
	}

	m := identityRe.FindStringSubmatch(ident.DocumentNo)
	if m == nil {
		return Identity{}, false
	}
	ident.AgencyCode, ident.FilingYearLocal, ident.SequenceCode = m[1], m[2], m[3]

	if year, ok := ExtractYear(rec); ok {
		ident.ResolvedYear = year
		return ident, true
	}
	local, err := strconv.Atoi(ident.FilingYearLocal)
	if err != nil {
		return Identity{}, false
	}
	ident.ResolvedYear = LocalToGregorian(local)
	return ident, true
}

// ExtractYear finds the Gregorian filing year from the record's explicit date
// fields. Document numbers keep their original year after a series rolls over,
// so an explicit date wins over the embedded year whenever one is present.
func ExtractYear(rec RawRecord) (int, bool) {
	for _, f := range newDateFields {
		if m := gregorianDateRe.FindStringSubmatch(rec.Get(f)); m != nil {
			return atoi(m[1])
		}
	}
	for _, f := range legacyDateFields {
		v := rec.Get(f)
		if m := localYearRe.FindStringSubmatch(v); m != nil {
			if y, ok := atoi(m[1]); ok {
				return LocalToGregorian(y), true
			}
		}
		if m := leadingYearRe.FindStringSubmatch(v); m != nil {
			return atoi(m[1])
		}
	}
	return 0, false
}

// LocalToGregorian converts a ROC calendar year to a Gregorian year.
func LocalToGregorian(localYear int) int {
	return localYear + ROCEraOffset
}

// Get returns the trimmed value of field, falling back to a case-insensitive
// match on the key. When several keys match, the lowest in byte order wins.
func (r RawRecord) Get(field string) string {
	if v, ok := r[field]; ok {
		return strings.TrimSpace(v)
	}
	match, found := "", false
	for k := range r {
		if strings.EqualFold(k, field) && (!found || k < match) {
			match, found = k, true
		}
	}
	if !found {
		return ""
	}
	return strings.TrimSpace(r[match])
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil
}
