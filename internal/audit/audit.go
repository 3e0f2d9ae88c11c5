// Package audit writes the per-run JSONL logs: one file per run with a
// record for every processed row, and a companion error file for rejected
// rows and aborted runs. The files are the reconciliation trail consumed
// by the reporting export.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Piaskraft/mjw-sync/internal/models"
)

const stampLayout = "2006-01-02_15-04-05"

// FileSink owns the pair of log files for the current run. It satisfies
// the orchestrator's audit interface; append failures are logged rather
// than propagated so that bookkeeping can never fail a row.
type FileSink struct {
	Dir string
	Log *slog.Logger

	run  *writer
	errs *writer
}

// NewFileSink returns a sink writing into dir, created if missing.
func NewFileSink(dir string, log *slog.Logger) *FileSink {
	if log == nil {
		log = slog.Default()
	}
	return &FileSink{Dir: dir, Log: log}
}

// BeginRun opens the run and error files for a pass starting at start.
func (s *FileSink) BeginRun(mode string, start time.Time) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	stamp := start.Format(stampLayout)

	run, err := newWriter(filepath.Join(s.Dir, fmt.Sprintf("%s_%s.jsonl", mode, stamp)))
	if err != nil {
		return err
	}
	errs, err := newWriter(filepath.Join(s.Dir, fmt.Sprintf("errors_%s.jsonl", stamp)))
	if err != nil {
		run.close()
		return err
	}
	s.run, s.errs = run, errs
	return nil
}

// Record appends one row record to the run log.
func (s *FileSink) Record(rec models.SyncRecord) {
	if s.run == nil {
		return
	}
	if err := s.run.append(rec); err != nil {
		s.Log.Error("writing run log", "err", err)
	}
}

// RecordError appends one record to the error log.
func (s *FileSink) RecordError(rec models.ErrorRecord) {
	if s.errs == nil {
		return
	}
	if err := s.errs.append(rec); err != nil {
		s.Log.Error("writing error log", "err", err)
	}
}

// EndRun closes the current run's files. An error file with no records
// is removed to keep the log directory readable.
func (s *FileSink) EndRun() {
	if s.run != nil {
		s.run.close()
		s.run = nil
	}
	if s.errs != nil {
		empty := s.errs.count == 0
		path := s.errs.path
		s.errs.close()
		s.errs = nil
		if empty {
			os.Remove(path)
		}
	}
}

type writer struct {
	path  string
	f     *os.File
	enc   *json.Encoder
	count int
}

func newWriter(path string) (*writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &writer{path: path, f: f, enc: json.NewEncoder(f)}, nil
}

func (w *writer) append(v any) error {
	w.count++
	return w.enc.Encode(v)
}

func (w *writer) close() {
	w.f.Close()
}
