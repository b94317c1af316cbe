package shdr

import (
	"errors"
	"strings"
	"time"

	"github.com/ghalamif/AegisAgent/internal/domain"
)

var (
	errUnterminatedQuote = errors.New("unterminated quoted field")
	errUnbalancedBrace   = errors.New("unbalanced '{' in table value")
)

// splitFields splits a line on '|'. A field that starts with '"' runs to the
// next '"' that is followed by '|' or the end of the line, so it may contain pipes.
func splitFields(line string) ([]string, error) {
	var fields []string
	for {
		if strings.HasPrefix(line, `"`) {
			end := closingQuote(line)
			if end < 0 {
				return nil, errUnterminatedQuote
			}
			fields = append(fields, line[1:end])
			line = line[end+1:]
			if line == "" {
				return fields, nil
			}
			line = line[1:] // the '|'
			continue
		}
		i := strings.IndexByte(line, '|')
		if i < 0 {
			return append(fields, line), nil
		}
		fields = append(fields, line[:i])
		line = line[i+1:]
	}
}

func closingQuote(s string) int {
	for i := 1; i < len(s); i++ {
		if s[i] == '"' && (i+1 == len(s) || s[i+1] == '|') {
			return i
		}
	}
	return -1
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// parseTimestamp accepts ISO 8601 instants, with or without a zone (UTC is
// assumed without one).
func parseTimestamp(s string) (time.Time, bool) {
	if len(s) < len("2006-01-02T15:04:05") || s[4] != '-' || s[7] != '-' || s[10] != 'T' {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseEntries parses "k1=v1 k2='two words' k3= k4={a=1 b=2}". A key without a
// value removes it. Braced values become table cells.
func parseEntries(s string) ([]domain.Entry, error) {
	var out []domain.Entry
	for {
		s = strings.TrimLeft(s, " \t")
		if s == "" {
			return out, nil
		}
		end := strings.IndexAny(s, "= \t")
		if end < 0 {
			return append(out, domain.Entry{Key: s, Removed: true}), nil
		}
		key := s[:end]
		if s[end] != '=' {
			out = append(out, domain.Entry{Key: key, Removed: true})
			s = s[end:]
			continue
		}
		s = s[end+1:]

		entry := domain.Entry{Key: key}
		switch {
		case s == "" || s[0] == ' ' || s[0] == '\t':
			entry.Removed = true
		case s[0] == '"' || s[0] == '\'':
			q := s[0]
			closeAt := strings.IndexByte(s[1:], q)
			if closeAt < 0 {
				return nil, errUnterminatedQuote
			}
			entry.Value = s[1 : closeAt+1]
			s = s[closeAt+2:]
		case s[0] == '{':
			closeAt := strings.IndexByte(s, '}')
			if closeAt < 0 {
				return nil, errUnbalancedBrace
			}
			cells, err := parseEntries(s[1:closeAt])
			if err != nil {
				return nil, err
			}
			entry.Cells = cells
			s = s[closeAt+1:]
		default:
			stop := strings.IndexAny(s, " \t")
			if stop < 0 {
				stop = len(s)
			}
			entry.Value = s[:stop]
			s = s[stop:]
		}
		out = append(out, entry)
	}
}
