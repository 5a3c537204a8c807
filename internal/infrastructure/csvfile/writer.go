package csvfile

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/pkg/logger"
)

func ValidatorsFileName(eraID int64) string {
	return fmt.Sprintf("era_%d_validators.csv", eraID)
}

func CandidatesFileName(eraID int64) string {
	return fmt.Sprintf("era_%d_delegation_candidates.csv", eraID)
}

type Writer struct {
	dir    string
	logger *logger.Logger
}

func NewWriter(dir string, logger *logger.Logger) *Writer {
	return &Writer{
		dir:    dir,
		logger: logger,
	}
}

// Write creates (or truncates) name under the output directory and returns
// its path.
func (w *Writer) Write(name string, records []*domain.Record) (string, error) {
	path := filepath.Join(w.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}

	drift, err := WriteRecords(f, records)
	if err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}

	if drift > 0 {
		w.logger.Warnw("Records do not share the header's columns", "file", path, "rows", drift)
	}
	w.logger.Infow("Saved records", "file", path, "rows", len(records))

	return path, nil
}

// WriteRecords writes the keys of the first record as the header and every
// record's values in that order. Nothing is written for an empty slice. It
// returns how many records had a key set different from the header: their
// missing columns are left empty and extra keys are dropped.
func WriteRecords(out io.Writer, records []*domain.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	cw := csv.NewWriter(out)
	header := records[0].Keys()
	if err := cw.Write(header); err != nil {
		return 0, err
	}

	drift := 0
	row := make([]string, len(header))
	for _, r := range records {
		matched := 0
		for i, key := range header {
			v, ok := r.Get(key)
			if ok {
				matched++
			}
			row[i] = domain.FormatValue(v)
		}
		if matched != len(header) || r.Len() != len(header) {
			drift++
		}
		if err := cw.Write(row); err != nil {
			return drift, err
		}
	}

	cw.Flush()
	return drift, cw.Error()
}
