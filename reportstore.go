package kscrash

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// ReportStore is the on-disk directory of reports keyed by monotonic IDs
// (spec.md §3/§4.10): <path>/<appName>-report-<hex16>.json. The high 32
// bits of an ID are seeded from UTC calendar time at initialize, the low 32
// bits come from an atomic counter, giving IDs that sort lexically by hex
// string in creation order within a single process run.
type ReportStore struct {
	path           string
	appName        string
	maxReportCount int

	idHigh  uint32
	counter atomic.Uint32
}

// NewReportStore creates dir if needed and prunes it to maxReportCount
// (spec.md §4.10: "initialize creates the directory and prunes to
// maxReportCount").
func NewReportStore(dir, appName string, maxReportCount int) (*ReportStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	rs := &ReportStore{
		path:           dir,
		appName:        appName,
		maxReportCount: maxReportCount,
		idHigh:         uint32(time.Now().UTC().Unix()),
	}
	if err := rs.Prune(); err != nil {
		return nil, err
	}
	return rs, nil
}

// NextID returns the next monotonic 64-bit report ID (spec.md §3: "high 32
// bits derived from UTC calendar fields at init, low 32 bits from an
// atomic counter").
func (rs *ReportStore) NextID() uint64 {
	low := rs.counter.Add(1)
	return uint64(rs.idHigh)<<32 | uint64(low)
}

// PathFor returns the file path a given report ID is stored at.
func (rs *ReportStore) PathFor(id uint64) string {
	return filepath.Join(rs.path, fmt.Sprintf("%s-report-%016x.json", rs.appName, id))
}

// WriteReport persists raw report bytes under the next monotonic ID and
// returns the ID and path, renaming into place atomically so a reader never
// observes a partially-written file.
func (rs *ReportStore) WriteReport(raw []byte) (id uint64, path string, err error) {
	id = rs.NextID()
	path = rs.PathFor(id)
	tmp := path + ".tmp"

	if err = os.WriteFile(tmp, raw, 0644); err != nil {
		return
	}
	if err = unix.Rename(tmp, path); err != nil {
		return
	}
	pruneErr := rs.Prune()
	return id, path, pruneErr
}

// reportFiles lists every report file in the store, oldest first.
func (rs *ReportStore) reportFiles() ([]string, error) {
	entries, err := os.ReadDir(rs.path)
	if err != nil {
		return nil, err
	}
	prefix := rs.appName + "-report-"
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for i, n := range names {
		names[i] = filepath.Join(rs.path, n)
	}
	return names, nil
}

// Prune deletes the oldest reports until at most maxReportCount remain
// (spec.md §4.10: "Pruned to a configured maximum count (oldest deleted
// first)").
func (rs *ReportStore) Prune() error {
	if rs.maxReportCount <= 0 {
		return nil
	}
	files, err := rs.reportFiles()
	if err != nil {
		return err
	}
	if len(files) <= rs.maxReportCount {
		return nil
	}
	for _, f := range files[:len(files)-rs.maxReportCount] {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// List returns the IDs of every retained report, oldest first.
func (rs *ReportStore) List() ([]uint64, error) {
	files, err := rs.reportFiles()
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(files))
	prefix := rs.appName + "-report-"
	for _, f := range files {
		name := filepath.Base(f)
		hex := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
		id, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ReadReport loads and fixes up the report for id, mirroring
// KSCrashReportStoreC.c's fixupCrashReport (SPEC_FULL.md §10): legacy
// reports missing report_version_minor get it coerced to 0 instead of
// failing to parse.
func (rs *ReportStore) ReadReport(id uint64) (map[string]any, error) {
	data, err := os.ReadFile(rs.PathFor(id))
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	fixupReport(doc)
	return doc, nil
}

func fixupReport(doc map[string]any) {
	if _, ok := doc["report_version_minor"]; !ok {
		doc["report_version_minor"] = 0
	}
	if _, ok := doc["report_version_major"]; !ok {
		doc["report_version_major"] = 1
	}
}

// scanRunID extracts the literal "run_id":"<uuid>" token from the first 2KB
// of a report file without invoking a JSON parser, matching spec.md §4.10's
// orphan-sidecar detection: `reads only the first 2 KB of each report and
// finds the run UUID by a literal byte scan`.
func scanRunID(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	buf := make([]byte, 2048)
	n, _ := f.Read(buf)
	buf = buf[:n]

	const needle = `"run_id":"`
	idx := bytes.Index(buf, []byte(needle))
	if idx < 0 {
		return "", false
	}
	rest := buf[idx+len(needle):]
	end := bytes.IndexByte(rest, '"')
	if end < 0 {
		return "", false
	}
	return string(rest[:end]), true
}

// pruneOrphanSidecars removes run-sidecar directories under sidecarsBase
// that have no matching run_id among the store's reports and aren't
// the current run (spec.md §4.10: "Orphaned run-sidecar directories ...
// are deleted at cleanup time").
func pruneOrphanSidecars(sidecarsBase string, rs *ReportStore, currentRunID string) error {
	entries, err := os.ReadDir(sidecarsBase)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	liveRunIDs := make(map[string]bool)
	files, err := rs.reportFiles()
	if err != nil {
		return err
	}
	for _, f := range files {
		if runID, ok := scanRunID(f); ok {
			liveRunIDs[runID] = true
		}
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if name == currentRunID || liveRunIDs[name] {
			continue
		}
		_ = os.RemoveAll(filepath.Join(sidecarsBase, name))
	}
	return nil
}
