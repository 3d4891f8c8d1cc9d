// Package applog writes and scans the append-only output log.
//
// The log is a SQL script that doubles as the run state: every faction gets
// an UPDATE block or a MISS comment, and a COMMIT block closes a fully
// processed input list. State is recovered by scanning the text.
package applog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind tags a record.
type Kind int

const (
	KindSuccess Kind = iota
	KindMiss
)

// Record is one terminal entry for a faction.
type Record struct {
	Kind     Kind
	Name     string
	Retry    bool
	Location string
	SystemID int64
	Flag     *bool
	Reason   string
}

// Success builds an update record.
func Success(name, location string, id int64, flag *bool, retry bool) Record {
	return Record{Kind: KindSuccess, Name: name, Location: location, SystemID: id, Flag: flag, Retry: retry}
}

// Miss builds a miss record.
func Miss(name, reason string, retry bool) Record {
	return Record{Kind: KindMiss, Name: name, Reason: reason, Retry: retry}
}

// Format controls the statements and comments written to the log.
type Format struct {
	Table       string
	KeyColumn   string
	IDColumn    string
	FlagColumn  string
	LocationTag string
	Generator   string
	Note        string
}

// DefaultFormat targets ref.Faction.
func DefaultFormat() Format {
	return Format{
		Table:       "ref.Faction",
		KeyColumn:   "FactionName",
		IDColumn:    "NativeSystemID",
		FlagColumn:  "IsPlayer",
		LocationTag: "Origin",
		Generator:   "nativesys",
		Note:        "Incremental output; safe to resume.",
	}
}

const (
	missPrefix      = "-- MISS: "
	retryMissPrefix = "-- RETRY MISS: "
	commitLine      = "COMMIT;"
	timeLayout      = "2006-01-02T15:04:05"
)

// Escape doubles single quotes for use in a SQL string literal.
func Escape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Header returns the lines opening a new log.
func (f Format) Header(now time.Time) []string {
	return []string{
		"-- Generated by " + f.Generator,
		"-- Started: " + now.Format(timeLayout),
		"BEGIN TRAN;",
		"",
		"-- " + f.Note,
		"",
	}
}

// Commit returns the lines closing a fully processed log.
func (f Format) Commit(now time.Time) []string {
	return []string{
		"-- Completed: " + now.Format(timeLayout),
		commitLine,
		"",
	}
}

// Lines renders a record. Success blocks are a comment, the statement and a
// blank line; misses are a single comment and a blank line.
func (f Format) Lines(r Record) []string {
	if r.Kind == KindMiss {
		prefix := missPrefix
		if r.Retry {
			prefix = retryMissPrefix
		}
		return []string{prefix + singleLine(r.Name) + " (" + sanitizeReason(r.Reason) + ")", ""}
	}

	tag := "UPDATE"
	if r.Retry {
		tag = "RETRY UPDATE"
	}
	comment := fmt.Sprintf("-- %s for faction: %s (%s='%s', SystemID=%d)",
		tag, singleLine(r.Name), f.LocationTag, singleLine(r.Location), r.SystemID)

	sets := f.IDColumn + " = " + strconv.FormatInt(r.SystemID, 10)
	if r.Flag != nil && *r.Flag && f.FlagColumn != "" {
		sets += ", f." + f.FlagColumn + " = 1"
	}
	return []string{
		comment,
		"UPDATE f",
		"SET f." + sets,
		"FROM " + f.Table + " AS f",
		f.signature(r.Name),
		"",
	}
}

// signature is the statement line that identifies a success for name. It
// carries the full quoted literal and terminator, so one name is never a
// prefix match for another.
func (f Format) signature(name string) string {
	return "WHERE f." + f.KeyColumn + " = '" + Escape(name) + "';"
}

func singleLine(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' }), " ")
}

// sanitizeReason keeps miss lines parseable: the reason is the last
// parenthesised group, so its own parentheses must balance.
func sanitizeReason(reason string) string {
	reason = strings.TrimSpace(singleLine(reason))
	if reason == "" {
		return "unknown"
	}
	if balanced(reason) {
		return reason
	}
	return strings.NewReplacer("(", "[", ")", "]").Replace(reason)
}

func balanced(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// parseMiss splits a miss line into name and reason. ok is false when the
// line is not a miss line. The reason is the trailing balanced group; when
// none is found the whole remainder is the name.
func parseMiss(line string) (name, reason string, retry, ok bool) {
	line = strings.TrimSpace(line)
	var rest string
	switch {
	case strings.HasPrefix(line, missPrefix):
		rest = line[len(missPrefix):]
	case strings.HasPrefix(line, retryMissPrefix):
		rest = line[len(retryMissPrefix):]
		retry = true
	default:
		return "", "", false, false
	}

	if strings.HasSuffix(rest, ")") {
		depth := 0
		for i := len(rest) - 1; i >= 0; i-- {
			switch rest[i] {
			case ')':
				depth++
			case '(':
				depth--
			}
			if depth == 0 {
				if i > 0 && rest[i-1] == ' ' {
					return strings.TrimSpace(rest[:i-1]), rest[i+1 : len(rest)-1], retry, true
				}
				break
			}
		}
	}
	return strings.TrimSpace(rest), "", retry, true
}

// parseSignature extracts the name from a success statement line.
func (f Format) parseSignature(line string) (string, bool) {
	line = strings.TrimSpace(line)
	prefix := "WHERE f." + f.KeyColumn + " = '"
	if !strings.HasPrefix(line, prefix) || !strings.HasSuffix(line, "';") || len(line) < len(prefix)+2 {
		return "", false
	}
	lit := line[len(prefix) : len(line)-2]
	return strings.ReplaceAll(lit, "''", "'"), true
}
