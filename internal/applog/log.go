package applog

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Set is a set of faction names.
type Set map[string]struct{}

// Has reports whether name is in the set.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// State is what a scan of the log recovers.
type State struct {
	// Updated holds names with a success statement.
	Updated Set
	// Missed holds names with a MISS or RETRY MISS line, including names
	// that were later updated.
	Missed Set
	// Reasons keeps the last recorded miss reason per name.
	Reasons   map[string]string
	Committed bool
}

// Settled filters names down to those with a terminal record. Misses count
// only when treatMissAsSettled is set.
func (s *State) Settled(names []string, treatMissAsSettled bool) Set {
	out := Set{}
	for _, n := range names {
		if s.Updated.Has(n) || (treatMissAsSettled && s.Missed.Has(n)) {
			out[n] = struct{}{}
		}
	}
	return out
}

// Misses filters names down to those with a miss line.
func (s *State) Misses(names []string) Set {
	out := Set{}
	for _, n := range names {
		if s.Missed.Has(n) {
			out[n] = struct{}{}
		}
	}
	return out
}

// Log is an append-only output file.
type Log struct {
	path   string
	format Format
	now    func() time.Time
}

// Option customizes a Log.
type Option func(*Log)

// WithClock sets the time source used for header and commit timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New returns a Log writing to path. The file is not touched until the
// first write.
func New(path string, f Format, opts ...Option) *Log {
	l := &Log{path: path, format: f, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Path returns the file path.
func (l *Log) Path() string { return l.path }

// EnsureHeader writes the header when the file is missing or empty. It
// reports whether a header was written.
func (l *Log) EnsureHeader() (bool, error) {
	info, err := os.Stat(l.path)
	switch {
	case err == nil && info.Size() > 0:
		return false, nil
	case err != nil && !os.IsNotExist(err):
		return false, eris.Wrap(err, "applog: stat")
	}
	if err := l.appendLines(l.format.Header(l.now())); err != nil {
		return false, err
	}
	return true, nil
}

// Append renders and durably appends records.
func (l *Log) Append(recs ...Record) error {
	var lines []string
	for _, r := range recs {
		lines = append(lines, l.format.Lines(r)...)
	}
	return l.appendLines(lines)
}

// Commit appends the completion block.
func (l *Log) Commit() error {
	return l.appendLines(l.format.Commit(l.now()))
}

// appendLines writes lines in a single write and syncs before returning.
func (l *Log) appendLines(lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrap(err, "applog: create directory")
		}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrap(err, "applog: open")
	}
	if _, err := f.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrap(err, "applog: write")
	}
	if err := f.Sync(); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrap(err, "applog: sync")
	}
	if err := f.Close(); err != nil {
		return eris.Wrap(err, "applog: close")
	}
	return nil
}

// Scan reads the whole log and classifies its records. A missing file is an
// empty state.
func (l *Log) Scan() (*State, error) {
	st := &State{Updated: Set{}, Missed: Set{}, Reasons: map[string]string{}}

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "applog: open for scan")
	}
	defer f.Close() //nolint:errcheck

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if name, ok := l.format.parseSignature(line); ok {
			st.Updated[name] = struct{}{}
			continue
		}
		if name, reason, _, ok := parseMiss(line); ok {
			st.Missed[name] = struct{}{}
			st.Reasons[name] = reason
			continue
		}
		if strings.TrimSpace(line) == commitLine {
			st.Committed = true
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "applog: scan")
	}
	return st, nil
}

// ScanSettled returns the names that already have a terminal record. Each
// call rescans the file; callers needing several views of one snapshot use
// Scan.
func (l *Log) ScanSettled(names []string, treatMissAsSettled bool) (Set, error) {
	st, err := l.Scan()
	if err != nil {
		return nil, err
	}
	return st.Settled(names, treatMissAsSettled), nil
}

// ScanMisses returns the names that have a miss line. The runner's retry
// planning reads the same set from its Scan snapshot.
func (l *Log) ScanMisses(names []string) (Set, error) {
	st, err := l.Scan()
	if err != nil {
		return nil, err
	}
	return st.Misses(names), nil
}

// HasCommit reports whether the completion marker is present.
func (l *Log) HasCommit() (bool, error) {
	st, err := l.Scan()
	if err != nil {
		return false, err
	}
	return st.Committed, nil
}
