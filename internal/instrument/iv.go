package instrument

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"witlab/internal/logging"
)

// Layout selects how fields are located inside an IV file.
type Layout string

const (
	// LayoutLabeled finds fields by their label, wherever they appear.
	LayoutLabeled Layout = "labeled"
	// LayoutFixed reads fields from absolute line numbers 18, 19, 24 and 25.
	LayoutFixed Layout = "fixed"
)

// FailurePolicy selects what a file without metrics does to the batch.
type FailurePolicy string

const (
	// FailureIsolate reports the file and keeps going.
	FailureIsolate FailurePolicy = "isolate"
	// FailureAbort stops the batch and asks for the files to be uploaded.
	FailureAbort FailurePolicy = "abort"
)

// Fixed user-facing messages.
const (
	MsgNoValidFiles = "No valid files found."
	MsgUploadFirst  = "Please upload the files for this query first."
)

// Metric names, in output order.
const (
	MetricVoc        = "Voc"
	MetricIsc        = "Isc"
	MetricFF         = "FF"
	MetricEfficiency = "Efficiency"
)

type field struct {
	name   string
	line   int      // 1-based line for LayoutFixed
	labels []string // lower-case labels for LayoutLabeled
	format func(v float64) string
}

var fields = []field{
	{MetricVoc, 18, []string{"voc"}, func(v float64) string { return fmt.Sprintf("%.2f mV", v) }},
	{MetricIsc, 19, []string{"isc", "jsc"}, func(v float64) string { return fmt.Sprintf("%.2f mA", v) }},
	{MetricFF, 24, []string{"ff", "fill factor"}, func(v float64) string { return fmt.Sprintf("%.2f", v/100) }},
	{MetricEfficiency, 25, []string{"efficiency", "eff", "pce"}, func(v float64) string { return fmt.Sprintf("%.2f %%", v) }},
}

var numberPattern = regexp.MustCompile(`^[-+]?(\d+\.?\d*|\.\d+)([eE][-+]?\d+)?`)

// parseValue reads the number after the first '=' with quotes and unit stripped.
func parseValue(line string) (float64, error) {
	_, rhs, ok := strings.Cut(line, "=")
	if !ok {
		return 0, fmt.Errorf("no '=' in %q", strings.TrimSpace(line))
	}
	rhs = strings.Trim(strings.TrimSpace(rhs), `"'`)
	num := numberPattern.FindString(strings.TrimSpace(rhs))
	if num == "" {
		return 0, fmt.Errorf("no number in %q", strings.TrimSpace(line))
	}
	return strconv.ParseFloat(num, 64)
}

// Metric is one formatted value.
type Metric struct {
	Name  string
	Value string
}

// MetricRecord holds the metrics found in one file.
type MetricRecord struct {
	File    string // base name
	Metrics []Metric
}

// Get returns a metric value by name.
func (r MetricRecord) Get(name string) (string, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m.Value, true
		}
	}
	return "", false
}

// MarshalJSON writes {"<file>": {"Voc": ..., ...}} with metrics in field order.
func (r MetricRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	key, _ := json.Marshal(r.File)
	buf.WriteByte('{')
	buf.Write(key)
	buf.WriteString(":{")
	for i, m := range r.Metrics {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(m.Name)
		v, _ := json.Marshal(m.Value)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// Failure is a grammar-valid file that produced no metrics.
type Failure struct {
	File   string
	Reason string
}

// Report is the outcome of one extraction batch.
type Report struct {
	Records     []MetricRecord
	Invalid     []string // failed the naming grammar
	Unsupported []string // valid name, not a text file
	Failed      []Failure
	Aborted     bool // FailureAbort hit a file without metrics
	NoValid     bool // nothing passed the grammar
}

// Render formats the report the way the agent shows it to the user.
func (r *Report) Render() string {
	var sb strings.Builder
	switch {
	case r.NoValid:
		sb.WriteString(MsgNoValidFiles)
	case r.Aborted:
		sb.WriteString(MsgUploadFirst)
	default:
		records := r.Records
		if records == nil {
			records = []MetricRecord{}
		}
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "    ")
		if err := enc.Encode(records); err != nil {
			return fmt.Sprintf("Error: %v", err)
		}
		sb.WriteString(strings.TrimRight(buf.String(), "\n"))
	}

	if len(r.Unsupported) > 0 && !r.Aborted {
		sb.WriteString("\nUnsupported files (only .txt output is read): ")
		sb.WriteString(strings.Join(r.Unsupported, ", "))
	}
	if len(r.Failed) > 0 && !r.Aborted {
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

// Options configures an Extractor.
type Options struct {
	Layout        Layout
	FailurePolicy FailurePolicy
	MaxLines      int
	Workers       int
	Dir           string // base for relative paths; empty means the working directory
}

// DefaultOptions returns labeled layout, per-file isolation, 30 lines, 4 workers.
func DefaultOptions() Options {
	return Options{Layout: LayoutLabeled, FailurePolicy: FailureIsolate, MaxLines: 30, Workers: 4}
}

// Extractor reads IV test files.
type Extractor struct {
	opts Options
}

// NewExtractor creates an extractor, filling zero options with defaults.
func NewExtractor(opts Options) *Extractor {
	def := DefaultOptions()
	if opts.Layout == "" {
		opts.Layout = def.Layout
	}
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = def.FailurePolicy
	}
	if opts.MaxLines <= 0 {
		opts.MaxLines = def.MaxLines
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	return &Extractor{opts: opts}
}

type fileResult struct {
	metrics []Metric
	err     error
}

// Extract validates names, reads every .txt file concurrently and assembles
// the report in input order. Only a cancelled context returns an error.
func (e *Extractor) Extract(ctx context.Context, paths []string) (*Report, error) {
	timer := logging.StartTimer(logging.CategoryExtract, "extract")
	defer timer.Stop()

	valid, invalid := Partition(paths, IsIVName)
	rep := &Report{Invalid: invalid}
	if len(valid) == 0 {
		rep.NoValid = true
		return rep, nil
	}

	var readable []string
	for _, p := range valid {
		if isText(p) {
			readable = append(readable, p)
		} else {
			rep.Unsupported = append(rep.Unsupported, p)
		}
	}

	results := make([]fileResult, len(readable))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, p := range readable {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, err := e.readFile(e.resolve(p))
			results[i] = fileResult{metrics: m, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, p := range readable {
		res := results[i]
		if res.err != nil {
			logging.ExtractWarn("error processing file %s: %v", p, res.err)
		}
		if len(res.metrics) == 0 {
			if e.opts.FailurePolicy == FailureAbort {
				rep.Aborted = true
				rep.Records = nil
				break
			}
			reason := "no recognized fields"
			if res.err != nil {
				reason = res.err.Error()
			}
			rep.Failed = append(rep.Failed, Failure{File: p, Reason: reason})
			continue
		}
		rep.Records = append(rep.Records, MetricRecord{File: filepath.Base(p), Metrics: res.metrics})
	}

	logging.Extract("extracted %d/%d files (invalid=%d unsupported=%d failed=%d aborted=%v)",
		len(rep.Records), len(paths), len(rep.Invalid), len(rep.Unsupported), len(rep.Failed), rep.Aborted)
	logging.Audit().Extraction(len(paths), len(rep.Records), len(rep.Failed))
	return rep, nil
}

func (e *Extractor) resolve(p string) string {
	if filepath.IsAbs(p) || e.opts.Dir == "" {
		abs, err := filepath.Abs(p)
		if err != nil {
			return p
		}
		return abs
	}
	return filepath.Join(e.opts.Dir, p)
}

// readFile returns the metrics found in the first MaxLines lines. Under
// FailureAbort a bad value stops reading the file, keeping what was found.
func (e *Extractor) readFile(path string) ([]Metric, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	found := make(map[string]string, len(fields))
	sc := bufio.NewScanner(f)
	lineNo := 0
	var readErr error
	for sc.Scan() {
		lineNo++
		if lineNo > e.opts.MaxLines {
			break
		}
		line := sc.Text()

		fd, ok := e.match(line, lineNo)
		if !ok {
			continue
		}
		if _, seen := found[fd.name]; seen {
			continue
		}
		v, err := parseValue(line)
		if err != nil {
			logging.ExtractDebug("%s:%d %s: %v", filepath.Base(path), lineNo, fd.name, err)
			if e.opts.FailurePolicy == FailureAbort {
				readErr = err
				break
			}
			continue
		}
		found[fd.name] = fd.format(v)
	}
	if err := sc.Err(); err != nil && readErr == nil {
		readErr = err
	}

	var out []Metric
	for _, fd := range fields {
		if v, ok := found[fd.name]; ok {
			out = append(out, Metric{Name: fd.name, Value: v})
		}
	}
	return out, readErr
}

func (e *Extractor) match(line string, lineNo int) (field, bool) {
	if e.opts.Layout == LayoutFixed {
		for _, fd := range fields {
			if fd.line == lineNo {
				return fd, true
			}
		}
		return field{}, false
	}

	label, _, ok := strings.Cut(line, "=")
	if !ok {
		return field{}, false
	}
	label = strings.ToLower(strings.TrimSpace(label))
	for _, fd := range fields {
		for _, key := range fd.labels {
			if labelMatches(label, key) {
				return fd, true
			}
		}
	}
	return field{}, false
}

// labelMatches reports whether label is key, optionally followed by a unit
// annotation such as "(mV)", "[%]" or "/mA". "Voc Range" and "Effective
// Area" are different quantities and do not match.
func labelMatches(label, key string) bool {
	rest, ok := strings.CutPrefix(label, key)
	if !ok {
		return false
	}
	rest = strings.TrimSpace(rest)
	return rest == "" || strings.ContainsRune("([/:.", rune(rest[0]))
}
