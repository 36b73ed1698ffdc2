package jobs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/batchrun/pkg/models"
)

// Pagination limits for results and error pages.
const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

// Format selects how a results page is serialized.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ResultFilter narrows the results sequence before it is paginated.
type ResultFilter struct {
	ItemIDPrefix string
	Contains     string
}

func (f ResultFilter) isZero() bool {
	return f.ItemIDPrefix == "" && f.Contains == ""
}

func (f ResultFilter) match(r models.Result) bool {
	if f.ItemIDPrefix != "" && !strings.HasPrefix(r.ItemID, f.ItemIDPrefix) {
		return false
	}
	if f.Contains != "" && !strings.Contains(r.Output, f.Contains) {
		return false
	}
	return true
}

// PageRequest selects the window [Offset, Offset+Limit) of a job's results.
type PageRequest struct {
	Limit  int
	Offset int
	Format Format
	Filter ResultFilter
}

func (p PageRequest) normalize() (PageRequest, error) {
	if p.Limit < 0 {
		return p, fmt.Errorf("%w: limit must be non-negative", ErrInvalidInput)
	}
	if p.Offset < 0 {
		return p, fmt.Errorf("%w: offset must be non-negative", ErrInvalidInput)
	}
	if p.Limit == 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	switch p.Format {
	case "":
		p.Format = FormatJSON
	case FormatJSON, FormatCSV:
	default:
		return p, fmt.Errorf("%w: format must be json or csv, got %q", ErrInvalidInput, p.Format)
	}
	return p, nil
}

// Page is a momentary snapshot of part of a job's results.
type Page struct {
	Items   []models.Result `json:"items"`
	Total   int             `json:"total"`
	Offset  int             `json:"offset"`
	Limit   int             `json:"limit"`
	HasMore bool            `json:"has_more"`
	Format  Format          `json:"-"`
	CSV     []byte          `json:"-"`
}

// ErrorPage is a window over a job's item errors. FailureReason is set once the
// job has failed and explains why (for example "cancelled by request").
type ErrorPage struct {
	Items         []string `json:"items"`
	Total         int      `json:"total"`
	Offset        int      `json:"offset"`
	Limit         int      `json:"limit"`
	HasMore       bool     `json:"has_more"`
	FailureReason string   `json:"failure_reason,omitempty"`
}

// resultsPage must be called under the job's read lock. The returned page
// does not share memory with job.
func resultsPage(job *models.Job, req PageRequest) Page {
	source := job.Results
	if !req.Filter.isZero() {
		source = make([]models.Result, 0, len(job.Results))
		for _, r := range job.Results {
			if req.Filter.match(r) {
				source = append(source, r)
			}
		}
	}

	start, end := pageBounds(len(source), req.Offset, req.Limit)
	items := make([]models.Result, end-start)
	copy(items, source[start:end])

	return Page{
		Items:   items,
		Total:   len(source),
		Offset:  req.Offset,
		Limit:   req.Limit,
		HasMore: end < len(source),
		Format:  req.Format,
	}
}

func errorsPage(job *models.Job, req PageRequest) ErrorPage {
	start, end := pageBounds(len(job.Errors), req.Offset, req.Limit)
	items := make([]string, end-start)
	copy(items, job.Errors[start:end])

	return ErrorPage{
		Items:         items,
		Total:         len(job.Errors),
		Offset:        req.Offset,
		Limit:         req.Limit,
		HasMore:       end < len(job.Errors),
		FailureReason: job.FailureReason,
	}
}

// EncodeCSV renders results with a header row of the result field names.
// A field is quoted, with inner quotes doubled, when it contains a comma;
// fields with line breaks or a leading quote are quoted the same way so the
// output parses back to the same values.
func EncodeCSV(results []models.Result) []byte {
	var b strings.Builder
	b.WriteString(strings.Join(models.ResultFields, ","))
	b.WriteByte('\n')
	for _, r := range results {
		b.WriteString(csvField(r.ItemID))
		b.WriteByte(',')
		b.WriteString(csvField(r.Output))
		b.WriteByte(',')
		b.WriteString(strconv.FormatInt(r.DurationMs, 10))
		b.WriteByte(',')
		b.WriteString(r.CompletedAt.Format(time.RFC3339Nano))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func csvField(s string) string {
	if strings.ContainsAny(s, ",\r\n") || strings.HasPrefix(s, `"`) {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

// ParseCSV reads output produced by EncodeCSV back into results. Quoted
// fields are taken byte for byte, so a CR inside one survives; encoding/csv
// would fold "\r\n" to "\n" there.
func ParseCSV(data []byte) ([]models.Result, error) {
	rows, err := readRecords(string(data))
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("reading csv: missing header")
	}
	if strings.Join(rows[0], ",") != strings.Join(models.ResultFields, ",") {
		return nil, fmt.Errorf("reading csv: unexpected header %v", rows[0])
	}
	for i, row := range rows {
		if len(row) != len(models.ResultFields) {
			return nil, fmt.Errorf("reading csv: record %d has %d fields, want %d", i+1, len(row), len(models.ResultFields))
		}
	}

	results := make([]models.Result, 0, len(rows)-1)
	for i, row := range rows[1:] {
		ms, err := strconv.ParseInt(row[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: duration_ms: %w", i+1, err)
		}
		at, err := time.Parse(time.RFC3339Nano, row[3])
		if err != nil {
			return nil, fmt.Errorf("row %d: completed_at: %w", i+1, err)
		}
		results = append(results, models.Result{
			ItemID:      row[0],
			Output:      row[1],
			DurationMs:  ms,
			CompletedAt: at,
		})
	}
	return results, nil
}

// readRecords splits \n-terminated records of comma-separated fields.
func readRecords(s string) ([][]string, error) {
	var rows [][]string
	for s != "" {
		var row []string
		for {
			field, rest, err := readField(s)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", len(rows)+1, err)
			}
			row = append(row, field)
			if rest == "" {
				s = rest
				break
			}
			sep := rest[0]
			s = rest[1:]
			if sep == '\n' {
				break
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// readField returns the first field of s and what follows it, starting at
// the separator.
func readField(s string) (field, rest string, err error) {
	if !strings.HasPrefix(s, `"`) {
		end := strings.IndexAny(s, ",\n")
		if end < 0 {
			end = len(s)
		}
		field = s[:end]
		if end == len(s) || s[end] == '\n' {
			field = strings.TrimSuffix(field, "\r")
		}
		return field, s[end:], nil
	}

	var b strings.Builder
	for i := 1; i < len(s); i++ {
		if s[i] != '"' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '"' {
			b.WriteByte('"')
			i++
			continue
		}
		rest = s[i+1:]
		if strings.HasPrefix(rest, "\r\n") {
			rest = rest[1:]
		}
		if rest != "" && rest[0] != ',' && rest[0] != '\n' {
			return "", "", fmt.Errorf("unexpected %q after closing quote", rest[0])
		}
		return b.String(), rest, nil
	}
	return "", "", errors.New("unterminated quoted field")
}
