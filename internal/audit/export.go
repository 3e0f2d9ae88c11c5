package audit

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Piaskraft/mjw-sync/internal/models"
)

// ErrNoRunLogs means the log directory holds no run logs to export.
var ErrNoRunLogs = errors.New("no run logs found")

// ExportCSV converts the newest run log in dir to a semicolon-delimited
// CSV next to it and returns the CSV path.
func ExportCSV(dir string) (string, error) {
	newest, err := newestRunLog(dir)
	if err != nil {
		return "", err
	}

	f, err := os.Open(newest)
	if err != nil {
		return "", err
	}
	defer f.Close()

	outPath := strings.TrimSuffix(newest, ".jsonl") + ".csv"
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	w.Comma = ';'
	header := []string{"time", "run_id", "key", "id", "old_price", "new_price", "final_price", "qty", "rate", "mode"}
	if err := w.Write(header); err != nil {
		return "", err
	}

	dec := json.NewDecoder(f)
	for dec.More() {
		var rec models.SyncRecord
		if err := dec.Decode(&rec); err != nil {
			return "", fmt.Errorf("decoding %s: %w", newest, err)
		}
		row := []string{
			rec.Time.Format(time.RFC3339),
			rec.RunID,
			rec.Key,
			strconv.Itoa(rec.ProductID),
			formatFloat(rec.OldPrice),
			formatFloat(rec.NewPrice),
			formatFloat(rec.FinalPrice),
			strconv.Itoa(rec.Qty),
			formatFloat(rec.Rate),
			rec.Mode,
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return outPath, nil
}

// newestRunLog picks the most recently written real_/dry_ JSONL file.
func newestRunLog(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	type candidate struct {
		name string
		mod  int64
	}
	var found []candidate
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		if !strings.HasPrefix(name, "real_") && !strings.HasPrefix(name, "dry_") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, candidate{name: name, mod: info.ModTime().UnixNano()})
	}
	if len(found) == 0 {
		return "", ErrNoRunLogs
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mod < found[j].mod })
	return filepath.Join(dir, found[len(found)-1].name), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
