package knowledge

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

var csvHeader = []string{"id", "title", "description", "source_url", "source_name"}

// WriteCSV replaces path with the topics, header first.
func WriteCSV(path string, topics []Topic) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, t := range topics {
		if err := w.Write([]string{t.ID, t.Title, t.Description, t.SourceURL, t.SourceName}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create csv dir: %w", err)
	}
	return atomic.WriteFile(path, &buf)
}

// ReadCSV loads topics by header name, so column order does not matter and
// missing optional columns read as empty.
func ReadCSV(path string) ([]Topic, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv %s is empty", path)
		}
		return nil, err
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	if _, ok := col["title"]; !ok {
		return nil, fmt.Errorf("csv %s has no title column", path)
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var topics []Topic
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		topics = append(topics, Topic{
			ID:          field(rec, "id"),
			Title:       field(rec, "title"),
			Description: field(rec, "description"),
			SourceURL:   field(rec, "source_url"),
			SourceName:  field(rec, "source_name"),
		})
	}
	return topics, nil
}
