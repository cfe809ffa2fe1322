package instrument

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"witlab/internal/logging"
)

// InSituSummary describes one in-situ absorption CSV.
type InSituSummary struct {
	File    string   `json:"file"`
	Rows    int      `json:"rows"`
	Columns int      `json:"columns"`
	Header  []string `json:"header,omitempty"`
}

// InSituReport is the outcome of an in-situ batch.
type InSituReport struct {
	Files   []InSituSummary
	Invalid []string
	Failed  []Failure
}

// Render formats the report for the agent.
func (r *InSituReport) Render() string {
	var sb strings.Builder
	if len(r.Files) == 0 && len(r.Failed) == 0 {
		sb.WriteString(MsgNoValidFiles)
	} else {
		files := r.Files
		if files == nil {
			files = []InSituSummary{}
		}
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "    ")
		if err := enc.Encode(files); err != nil {
			return fmt.Sprintf("Error: %v", err)
		}
		sb.WriteString(strings.TrimRight(buf.String(), "\n"))
	}
	if len(r.Failed) > 0 {
		parts := make([]string, len(r.Failed))
		for i, f := range r.Failed {
			parts[i] = fmt.Sprintf("%s (%s)", f.File, f.Reason)
		}
		sb.WriteString("\nFailed files: ")
		sb.WriteString(strings.Join(parts, ", "))
	}
	if len(r.Invalid) > 0 {
		sb.WriteString("\nInvalid files: ")
		sb.WriteString(strings.Join(r.Invalid, ", "))
	}
	return sb.String()
}

// SummarizeInSitu validates names and counts rows/columns of each valid CSV.
// The first record is treated as the header.
func SummarizeInSitu(paths []string) *InSituReport {
	return summarizeInSitu(paths, func(p string) string { return p })
}

// SummarizeInSitu is SummarizeInSitu with relative paths resolved against
// the extractor's Dir.
func (e *Extractor) SummarizeInSitu(paths []string) *InSituReport {
	return summarizeInSitu(paths, e.resolve)
}

func summarizeInSitu(paths []string, resolve func(string) string) *InSituReport {
	valid, invalid := Partition(paths, IsInSituName)
	rep := &InSituReport{Invalid: invalid}
	for _, p := range valid {
		s, err := summarizeCSV(resolve(p))
		if err != nil {
			logging.ExtractWarn("in-situ %s: %v", p, err)
			rep.Failed = append(rep.Failed, Failure{File: p, Reason: err.Error()})
			continue
		}
		rep.Files = append(rep.Files, s)
	}
	logging.Extract("in-situ: %d summarized, %d invalid, %d failed", len(rep.Files), len(rep.Invalid), len(rep.Failed))
	return rep
}

func summarizeCSV(path string) (InSituSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return InSituSummary{}, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	s := InSituSummary{File: filepath.Base(path)}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return InSituSummary{}, err
		}
		if s.Header == nil {
			s.Header = rec
			s.Columns = len(rec)
			continue
		}
		s.Rows++
		if len(rec) > s.Columns {
			s.Columns = len(rec)
		}
	}
	if s.Header == nil {
		return InSituSummary{}, fmt.Errorf("empty file")
	}
	return s, nil
}
