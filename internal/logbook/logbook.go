// Package logbook keeps the operator-facing run journal: one line per event
// that changes what a run produced.
package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logbook records excluded scenes, skipped corrections, failed grades and
// export outcomes in a plain text file. Entries may carry a region/reference
// scope so one reef's history can be pulled out of a long run.
type Logbook struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// New creates a logbook backed by path, creating its directory.
func New(path string) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Logbook{path: path, now: time.Now}, nil
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes an unscoped entry.
func (l *Logbook) Append(level Level, message string) {
	l.write(level, "", message)
}

// Info appends an informational entry.
func (l *Logbook) Info(format string, args ...any) {
	l.write(LevelInfo, "", fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (l *Logbook) Warn(format string, args ...any) {
	l.write(LevelWarn, "", fmt.Sprintf(format, args...))
}

// Error appends an error entry.
func (l *Logbook) Error(format string, args ...any) {
	l.write(LevelError, "", fmt.Sprintf(format, args...))
}

// Scope returns a writer that tags entries with region/reference.
func (l *Logbook) Scope(region, reference string) Scope {
	return Scope{book: l, label: scopeLabel(region, reference)}
}

// Tail returns up to maxLines of the most recent entries and the total number
// of entries in the logbook.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil || maxLines <= 0 {
		return nil, 0
	}
	lines := l.read()
	total := len(lines)
	if total > maxLines {
		lines = lines[total-maxLines:]
	}
	return lines, total
}

// Entries returns every entry written at level, oldest first.
func (l *Logbook) Entries(level Level) []string {
	marker := fmt.Sprintf(" %-5s ", string(level))
	return l.filter(func(line string) bool { return strings.Contains(line, marker) })
}

// Region returns every entry scoped to region, for any reference tier.
func (l *Logbook) Region(region string) []string {
	prefix := "[" + strings.TrimSpace(region) + "/"
	return l.filter(func(line string) bool { return strings.Contains(line, prefix) })
}

func (l *Logbook) filter(keep func(string) bool) []string {
	if l == nil {
		return nil
	}
	var out []string
	for _, line := range l.read() {
		if keep(line) {
			out = append(out, line)
		}
	}
	return out
}

func (l *Logbook) write(level Level, label, message string) {
	if l == nil {
		return
	}
	message = strings.Join(strings.Fields(message), " ")
	if label != "" {
		message = label + " " + message
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("%s %-5s %s\n", l.now().UTC().Format(time.RFC3339), string(level), message)
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(line)
}

func (l *Logbook) read() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

// Scope writes entries tagged [region/reference]. The zero Scope and scopes
// of a nil Logbook discard everything.
type Scope struct {
	book  *Logbook
	label string
}

func (s Scope) Info(format string, args ...any) {
	s.book.write(LevelInfo, s.label, fmt.Sprintf(format, args...))
}

func (s Scope) Warn(format string, args ...any) {
	s.book.write(LevelWarn, s.label, fmt.Sprintf(format, args...))
}

func (s Scope) Error(format string, args ...any) {
	s.book.write(LevelError, s.label, fmt.Sprintf(format, args...))
}

func scopeLabel(region, reference string) string {
	region = strings.TrimSpace(region)
	if region == "" {
		region = "-"
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		reference = "-"
	}
	return "[" + region + "/" + reference + "]"
}
