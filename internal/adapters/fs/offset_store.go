package fs

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/pkg/log"
)

// Section markers of the store file.
const (
	DirsStart    = "<start_log_files>"
	DirsEnd      = "<end_log_files>"
	OffsetsStart = "<start_thread_status>"
	OffsetsEnd   = "<end_thread_status>"
)

const storeHeader = "# logship state: watched directories and per-file line offsets"

// OffsetStore implements ports.OffsetStore on a line-oriented text file:
//
//	# comment
//	<start_log_files>
//	/var/log/dns
//	<end_log_files>
//	<start_thread_status>
//	/var/log/dns/dns.log 1024
//	<end_thread_status>
//
// Offset lines are "<path> <offset>" separated by a single space, so paths
// containing a space cannot be stored in the offset section.
//
// Every operation, read or write, holds one mutex for its whole duration and
// writes replace the complete file.
type OffsetStore struct {
	path   string
	logger log.Logger

	mu sync.Mutex
}

// NewOffsetStore creates an OffsetStore backed by the file at path.
// The file is created on first write.
func NewOffsetStore(path string, logger log.Logger) *OffsetStore {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &OffsetStore{path: path, logger: logger}
}

// Path returns the store file path.
func (s *OffsetStore) Path() string {
	return s.path
}

// ListWatchedDirectories returns the directory section in file order.
// A missing store yields an empty list.
func (s *OffsetStore) ListWatchedDirectories() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.readLines()
	if err != nil {
		return nil, err
	}
	start, end, err := findSection(lines, DirsStart, DirsEnd)
	if err != nil || start < 0 {
		return nil, err
	}

	var dirs []string
	for _, l := range lines[start+1 : end] {
		if skipLine(l) {
			continue
		}
		dirs = append(dirs, l)
	}
	return dirs, nil
}

// AddDirectoryIfAbsent inserts dir right after the directory start marker
// unless it is already listed.
func (s *OffsetStore) AddDirectoryIfAbsent(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.readLines()
	if err != nil {
		return err
	}
	lines, err = ensureSections(lines)
	if err != nil {
		return err
	}

	start, end, _ := findSection(lines, DirsStart, DirsEnd)
	for _, l := range lines[start+1 : end] {
		if l == dir {
			return nil
		}
	}

	lines = insertAt(lines, start+1, dir)
	return s.writeLines(lines)
}

// RemoveDirectory deletes dir from the directory section. Absent entries are ignored.
func (s *OffsetStore) RemoveDirectory(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.readLines()
	if err != nil {
		return err
	}
	start, end, err := findSection(lines, DirsStart, DirsEnd)
	if err != nil || start < 0 {
		return err
	}

	out := make([]string, 0, len(lines))
	removed := false
	for i, l := range lines {
		if i > start && i < end && l == dir {
			removed = true
			continue
		}
		out = append(out, l)
	}
	if !removed {
		return nil
	}
	return s.writeLines(out)
}

// ListTailerOffsets returns the offset section in file order.
// Malformed entries are logged and skipped.
func (s *OffsetStore) ListTailerOffsets() ([]domain.OffsetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.readLines()
	if err != nil {
		return nil, err
	}
	start, end, err := findSection(lines, OffsetsStart, OffsetsEnd)
	if err != nil || start < 0 {
		return nil, err
	}

	var recs []domain.OffsetRecord
	for _, l := range lines[start+1 : end] {
		if skipLine(l) {
			continue
		}
		rec, err := parseOffsetLine(l)
		if err != nil {
			s.logger.Warn("skipping offset entry", log.String("line", l), log.Err(err))
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// UpdateTailerOffset rewrites the offset of path in place, or appends a new
// entry to the offset section.
func (s *OffsetStore) UpdateTailerOffset(path string, offset int64) error {
	if strings.Contains(path, " ") {
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedPath, path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.readLines()
	if err != nil {
		return err
	}
	lines, err = ensureSections(lines)
	if err != nil {
		return err
	}

	entry := formatOffsetLine(path, offset)
	start, end, _ := findSection(lines, OffsetsStart, OffsetsEnd)
	for i := start + 1; i < end; i++ {
		if p, _, ok := strings.Cut(lines[i], " "); ok && p == path {
			if lines[i] == entry {
				return nil
			}
			lines[i] = entry
			return s.writeLines(lines)
		}
	}

	lines = insertAt(lines, end, entry)
	return s.writeLines(lines)
}

// readLines loads the store. A missing file yields no lines.
func (s *OffsetStore) readLines() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read offset store: %w", err)
	}

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan offset store: %w", err)
	}
	return lines, nil
}

// writeLines replaces the store atomically (temp file, then rename).
func (s *OffsetStore) writeLines(lines []string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write offset store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace offset store: %w", err)
	}
	return nil
}

// findSection returns the indexes of the start and end markers, or -1, -1
// when the section is absent.
func findSection(lines []string, startMarker, endMarker string) (int, int, error) {
	start := -1
	for i, l := range lines {
		switch {
		case l == startMarker && start < 0:
			start = i
		case l == endMarker && start >= 0:
			return start, i, nil
		}
	}
	if start >= 0 {
		return -1, -1, fmt.Errorf("%w: %s without %s", domain.ErrMalformedStore, startMarker, endMarker)
	}
	return -1, -1, nil
}

// ensureSections appends whichever sections are missing.
func ensureSections(lines []string) ([]string, error) {
	if len(lines) == 0 {
		lines = append(lines, storeHeader)
	}
	for _, m := range [][2]string{{DirsStart, DirsEnd}, {OffsetsStart, OffsetsEnd}} {
		start, _, err := findSection(lines, m[0], m[1])
		if err != nil {
			return nil, err
		}
		if start < 0 {
			lines = append(lines, m[0], m[1])
		}
	}
	return lines, nil
}

func insertAt(lines []string, i int, v string) []string {
	lines = append(lines, "")
	copy(lines[i+1:], lines[i:])
	lines[i] = v
	return lines
}

func skipLine(l string) bool {
	return strings.TrimSpace(l) == "" || strings.HasPrefix(l, "#")
}

func parseOffsetLine(l string) (domain.OffsetRecord, error) {
	fields := strings.Split(l, " ")
	if len(fields) != 2 {
		return domain.OffsetRecord{}, fmt.Errorf("%w: want \"<path> <offset>\"", domain.ErrUnsupportedPath)
	}
	off, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return domain.OffsetRecord{}, fmt.Errorf("parse offset: %w", err)
	}
	return domain.OffsetRecord{Path: fields[0], Offset: off}, nil
}

func formatOffsetLine(path string, offset int64) string {
	return path + " " + strconv.FormatInt(offset, 10)
}
