package lab

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"witlab/internal/features"
	"witlab/internal/instrument"
	"witlab/internal/predict"
	"witlab/internal/store"
	"witlab/internal/tools"
)

type fakePredictor struct {
	pred *predict.Prediction
	err  error
	got  *features.Record
}

func (f *fakePredictor) Predict(ctx context.Context, rec *features.Record) (*predict.Prediction, error) {
	f.got = rec
	return f.pred, f.err
}

type fakeGenerator struct {
	formulas []predict.Formula
	dpo      string
	template string
	size     int
}

func (f *fakeGenerator) Generate(ctx context.Context, template string, size int) ([]predict.Formula, error) {
	f.template, f.size = template, size
	return f.formulas, nil
}

func (f *fakeGenerator) DPO(ctx context.Context, template string) (string, error) {
	f.template = template
	return f.dpo, nil
}

type fakeHistory struct {
	mu          sync.Mutex
	predictions []store.PredictionEntry
	extractions []store.ExtractionEntry
}

func (f *fakeHistory) RecordPrediction(ctx context.Context, e store.PredictionEntry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.predictions = append(f.predictions, e)
	return fmt.Sprintf("p%d", len(f.predictions)), nil
}

func (f *fakeHistory) RecordExtraction(ctx context.Context, e store.ExtractionEntry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extractions = append(f.extractions, e)
	return fmt.Sprintf("e%d", len(f.extractions)), nil
}

func newDeps(t *testing.T) (*Deps, *fakePredictor, *fakeGenerator, *fakeHistory) {
	t.Helper()
	base := t.TempDir()
	p := &fakePredictor{pred: &predict.Prediction{PCE: 21.5, FF: 80.1, Voc: 1.12, Jsc: 24.3}}
	g := &fakeGenerator{}
	h := &fakeHistory{}
	d := &Deps{
		Assembler:    features.NewAssembler(features.PolicyZero),
		Predictor:    p,
		Generator:    g,
		Extractor:    instrument.NewExtractor(instrument.Options{Dir: base}),
		History:      h,
		BaseFolder:   base,
		TemplatePath: filepath.Join(base, "template.json"),
	}
	return d, p, g, h
}

func newRegistry(t *testing.T, d *Deps) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	require.NoError(t, RegisterAll(reg, d))
	return reg
}

func run(t *testing.T, reg *tools.Registry, name string, args map[string]any) *tools.ToolResult {
	t.Helper()
	ctx := tools.WithSessionID(context.Background(), "sess-1")
	res, _ := reg.Execute(ctx, name, args)
	require.NotNil(t, res)
	return res
}

func TestRegisterAll(t *testing.T) {
	d, _, _, _ := newDeps(t)
	reg := newRegistry(t, d)

	assert.Equal(t, 8, reg.Count())
	names := make([]string, 0, reg.Count())
	for _, tool := range reg.All() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{
		"PerformingGeneration", "Evaluator", "terminate", "path_generator",
		"folder_reader", "exp_IV", "exp_Insitu", "file_saver",
	}, names)
	assert.True(t, reg.Get("terminate").Terminal)
	assert.Len(t, reg.GetByCategory(tools.CategoryFiles), 3)

	assert.Error(t, RegisterAll(reg, d), "second registration must collide")
}

// =============================================================================
// EVALUATOR
// =============================================================================

func TestEvaluator_Standard(t *testing.T) {
	d, p, _, h := newDeps(t)
	reg := newRegistry(t, d)

	res := run(t, reg, "Evaluator", map[string]any{
		"Etype":                "普通生成",
		"Formula_PVK":          "Cs0.05FA0.81MA0.14PbI2.55Br0.45",
		"Spin_Coating_Speed_1": 1000,
		"Formula_Additive_1":   "MACl",
		"Formula_SAM_1":        "none",
	})
	require.True(t, res.IsSuccess(), res.Text())
	assert.Contains(t, res.Result, `"PCE": 21.5`)
	assert.Contains(t, res.Result, `"Jsc": 24.3`)

	require.NotNil(t, p.got)
	conc, ok := p.got.Get(features.ColConcentrationPVK)
	require.True(t, ok)
	assert.Equal(t, features.DefaultConcentrationPVK, conc)
	speed, _ := p.got.Get(features.ColSpinSpeed1)
	assert.Equal(t, 1000.0, speed)

	require.Len(t, h.predictions, 1)
	e := h.predictions[0]
	assert.Equal(t, "sess-1", e.SessionID)
	assert.Equal(t, string(features.ModeStandard), e.Mode)
	require.NotNil(t, e.PCE)
	assert.Equal(t, 21.5, *e.PCE)
	assert.Empty(t, e.Error)
}

func TestEvaluator_StatusModes(t *testing.T) {
	tests := []struct {
		etype string
		want  string
	}{
		{"DPO生成", features.StatusDPO},
		{"其他", features.StatusOther},
	}
	for _, tt := range tests {
		t.Run(tt.etype, func(t *testing.T) {
			d, p, _, h := newDeps(t)
			reg := newRegistry(t, d)

			res := run(t, reg, "Evaluator", map[string]any{"Etype": tt.etype, "Formula_PVK": "FAPbI3"})
			require.True(t, res.IsSuccess(), res.Text())
			assert.Equal(t, tt.want, res.Result)
			assert.Nil(t, p.got, "no prediction outside standard mode")
			assert.Empty(t, h.predictions)
		})
	}
}

func TestEvaluator_PredictionError(t *testing.T) {
	d, p, _, h := newDeps(t)
	p.err = errors.New("service down")
	reg := newRegistry(t, d)

	res := run(t, reg, "Evaluator", map[string]any{"Etype": "普通生成", "Formula_PVK": "FAPbI3"})
	require.False(t, res.IsSuccess())
	assert.Equal(t, "Error: prediction failed: service down", res.Text())

	require.Len(t, h.predictions, 1)
	assert.Equal(t, "service down", h.predictions[0].Error)
	assert.Nil(t, h.predictions[0].PCE)
}

func TestEvaluator_MissingFormula(t *testing.T) {
	d, _, _, _ := newDeps(t)
	reg := newRegistry(t, d)

	res := run(t, reg, "Evaluator", map[string]any{"Etype": "普通生成"})
	assert.ErrorIs(t, res.Error, tools.ErrMissingRequiredArg)
}

func TestEvaluator_UnknownMode(t *testing.T) {
	d, _, _, _ := newDeps(t)
	reg := newRegistry(t, d)

	res := run(t, reg, "Evaluator", map[string]any{"Etype": "guess", "Formula_PVK": "FAPbI3"})
	assert.False(t, res.IsSuccess())
}

// =============================================================================
// GENERATION
// =============================================================================

func TestGeneration_Generate(t *testing.T) {
	d, _, g, _ := newDeps(t)
	g.formulas = []predict.Formula{{{Key: "Formula_PVK", Value: "FAPbI3"}, {Key: "Annealed_Time", Value: 10}}}
	reg := newRegistry(t, d)

	res := run(t, reg, "PerformingGeneration", map[string]any{"formula_filepath": "none.txt", "num": 3})
	require.True(t, res.IsSuccess(), res.Text())
	assert.True(t, strings.HasPrefix(res.Result, "Formulas generated, as follows:\n"))
	assert.Contains(t, res.Result, `"Formula_PVK": "FAPbI3"`)
	assert.Equal(t, d.TemplatePath, g.template)
	assert.Equal(t, 3, g.size)
}

func TestGeneration_RelativeTemplate(t *testing.T) {
	d, _, g, _ := newDeps(t)
	reg := newRegistry(t, d)

	res := run(t, reg, "PerformingGeneration", map[string]any{"formula_filepath": "mine.json"})
	require.True(t, res.IsSuccess(), res.Text())
	assert.Equal(t, filepath.Join(d.BaseFolder, "mine.json"), g.template)
	assert.Equal(t, 1, g.size)
}

func TestGeneration_DPOSavesResults(t *testing.T) {
	d, _, g, _ := newDeps(t)
	g.dpo = "recommended: FAPbI3"
	reg := newRegistry(t, d)

	res := run(t, reg, "PerformingGeneration", map[string]any{"mode": "dpo"})
	require.True(t, res.IsSuccess(), res.Text())
	assert.Equal(t, "recommended: FAPbI3"+predict.DPOSuffix, res.Result)

	data, err := os.ReadFile(filepath.Join(d.BaseFolder, predict.ResultsFile))
	require.NoError(t, err)
	assert.Equal(t, "recommended: FAPbI3", string(data))
}

func TestGeneration_Inspect(t *testing.T) {
	d, _, _, _ := newDeps(t)
	require.NoError(t, os.WriteFile(d.TemplatePath,
		[]byte(`[{"Formula_PVK":"FAPbI3","PCE":20},{"Formula_PVK":"MAPbI3","Annealed_Time":10}]`), 0644))
	reg := newRegistry(t, d)

	res := run(t, reg, "PerformingGeneration", map[string]any{"mode": "ins"})
	require.True(t, res.IsSuccess(), res.Text())
	assert.Contains(t, res.Result, "2 records, 3 fields: Annealed_Time, Formula_PVK, PCE")
}

func TestGeneration_InspectRejectsNonJSON(t *testing.T) {
	d, _, _, _ := newDeps(t)
	reg := newRegistry(t, d)

	res := run(t, reg, "PerformingGeneration", map[string]any{"mode": "ins", "formula_filepath": "a.txt"})
	assert.ErrorIs(t, res.Error, predict.ErrNotJSON)
}

func TestGeneration_InvalidMode(t *testing.T) {
	d, _, _, _ := newDeps(t)
	reg := newRegistry(t, d)

	res := run(t, reg, "PerformingGeneration", map[string]any{"mode": "bogus"})
	require.Error(t, res.Error)
	assert.Contains(t, res.Error.Error(), "invalid mode")
}

// =============================================================================
// FILES
// =============================================================================

func TestPathGenerator(t *testing.T) {
	d, _, _, _ := newDeps(t)
	reg := newRegistry(t, d)

	res := run(t, reg, "path_generator", map[string]any{"exp_id": "exp7", "test_number": 3, "path_type": "In-situ"})
	require.True(t, res.IsSuccess(), res.Text())
	assert.Equal(t, filepath.Join(d.BaseFolder, "exp7", "all", "In-situ", "3"), res.Result)

	res = run(t, reg, "path_generator", map[string]any{"exp_id": "exp7"})
	require.True(t, res.IsSuccess(), res.Text())
	assert.Equal(t, filepath.Join(d.BaseFolder, "exp7", "all", "IV"), res.Result)

	res = run(t, reg, "path_generator", map[string]any{"exp_id": "exp7", "path_type": "XRD"})
	assert.False(t, res.IsSuccess())
}

func TestFolderReader(t *testing.T) {
	d, _, _, _ := newDeps(t)
	require.NoError(t, os.MkdirAll(filepath.Join(d.BaseFolder, "exp7", "all"), 0755))
	reg := newRegistry(t, d)

	res := run(t, reg, "folder_reader", map[string]any{"path": d.BaseFolder, "step_into": "exp7"})
	require.True(t, res.IsSuccess(), res.Text())
	assert.Equal(t, filepath.Join(d.BaseFolder, "exp7", "all"), res.Result)

	res = run(t, reg, "folder_reader", map[string]any{"path": d.BaseFolder, "step_into": "missing"})
	require.False(t, res.IsSuccess())
	assert.True(t, strings.HasPrefix(res.Text(), "Error: 'missing' does not exist"))
}

func TestFileSaver(t *testing.T) {
	d, _, _, _ := newDeps(t)
	reg := newRegistry(t, d)

	res := run(t, reg, "file_saver", map[string]any{"content": "a", "file_path": "out/notes.txt"})
	require.True(t, res.IsSuccess(), res.Text())
	path := filepath.Join(d.BaseFolder, "out", "notes.txt")
	assert.Equal(t, "Content successfully saved to "+path, res.Result)

	res = run(t, reg, "file_saver", map[string]any{"content": "b", "file_path": path, "mode": "a"})
	require.True(t, res.IsSuccess(), res.Text())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(data))

	res = run(t, reg, "file_saver", map[string]any{"content": "c", "file_path": path})
	require.True(t, res.IsSuccess(), res.Text())
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "c", string(data))

	res = run(t, reg, "file_saver", map[string]any{"content": "c", "file_path": path, "mode": "x"})
	assert.False(t, res.IsSuccess())
}

// =============================================================================
// INSTRUMENTS
// =============================================================================

func ivFixture() string {
	lines := make([]string, 30)
	for i := range lines {
		lines[i] = fmt.Sprintf("Setting %d = %d", i+1, i)
	}
	lines[17] = "Voc = 850.123 mV"
	lines[18] = "Isc = 12.346 mA"
	lines[23] = "FF = 78.9"
	lines[24] = "Eff = 21.456"
	return strings.Join(lines, "\n") + "\n"
}

func TestExpIV(t *testing.T) {
	d, _, _, h := newDeps(t)
	name := "IV_1_20240914_201_201_CH1.txt"
	require.NoError(t, os.WriteFile(filepath.Join(d.BaseFolder, name), []byte(ivFixture()), 0644))
	reg := newRegistry(t, d)

	res := run(t, reg, "exp_IV", map[string]any{"IV_file": []any{name, "notes.txt"}})
	require.True(t, res.IsSuccess(), res.Text())
	assert.Contains(t, res.Result, name)
	assert.Contains(t, res.Result, "Invalid files: notes.txt")

	require.Len(t, h.extractions, 1)
	assert.Equal(t, name, h.extractions[0].File)
	assert.Equal(t, "sess-1", h.extractions[0].SessionID)
	assert.NotEmpty(t, h.extractions[0].Metrics)
}

func TestExpIV_SingleString(t *testing.T) {
	d, _, _, h := newDeps(t)
	reg := newRegistry(t, d)

	res := run(t, reg, "exp_IV", map[string]any{"IV_file": "bad.txt"})
	require.True(t, res.IsSuccess(), res.Text())
	assert.Contains(t, res.Result, instrument.MsgNoValidFiles)
	assert.Empty(t, h.extractions)
}

func TestExpInSitu(t *testing.T) {
	d, _, _, _ := newDeps(t)
	name := "GP_Abs_20240914_201_201.csv"
	require.NoError(t, os.WriteFile(filepath.Join(d.BaseFolder, name), []byte("wavelength,t0\n400,0.1\n410,0.2\n"), 0644))
	reg := newRegistry(t, d)

	res := run(t, reg, "exp_Insitu", map[string]any{"InSitu_file": []any{name, "x.csv"}})
	require.True(t, res.IsSuccess(), res.Text())
	assert.Contains(t, res.Result, `"rows": 2`)
	assert.True(t, strings.HasSuffix(res.Result, "Invalid files: x.csv"))

	alias := run(t, reg, "exp_Insitu", map[string]any{"IV_file": []any{name}})
	require.True(t, alias.IsSuccess(), alias.Text())
	assert.Contains(t, alias.Result, `"rows": 2`)
}

// =============================================================================
// CONTROL
// =============================================================================

func TestTerminate(t *testing.T) {
	d, _, _, _ := newDeps(t)
	reg := newRegistry(t, d)

	res := run(t, reg, "terminate", map[string]any{"status": "failure"})
	require.True(t, res.IsSuccess(), res.Text())
	assert.Equal(t, "The interaction has been completed with status: failure", res.Result)

	res = run(t, reg, "terminate", nil)
	assert.ErrorIs(t, res.Error, tools.ErrMissingRequiredArg)
}
