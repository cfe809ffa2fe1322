// Package lab provides the WIT laboratory tools offered to the agent.
//
// Tools:
//   - Evaluator: assemble a feature record and predict PCE, FF, Voc, Jsc
//   - PerformingGeneration: generate formulas (gen), DPO recommendation (dpo),
//     or inspect the generation template (ins)
//   - path_generator: build <base>/<exp-id>/all/<IV|In-situ>[/<test>]
//   - folder_reader: list a directory tree
//   - exp_IV: extract metrics from IV instrument files
//   - exp_Insitu: validate and summarize in-situ absorption files
//   - file_saver: save text to a file
//   - terminate: end the interaction
package lab

import (
	"context"
	"path/filepath"

	"witlab/internal/features"
	"witlab/internal/instrument"
	"witlab/internal/predict"
	"witlab/internal/store"
	"witlab/internal/tools"
)

// Predictor calls the prediction service.
type Predictor interface {
	Predict(ctx context.Context, rec *features.Record) (*predict.Prediction, error)
}

// Generator calls the generation and DPO services.
type Generator interface {
	Generate(ctx context.Context, template string, size int) ([]predict.Formula, error)
	DPO(ctx context.Context, template string) (string, error)
}

// History records tool results. It is optional.
type History interface {
	RecordPrediction(ctx context.Context, e store.PredictionEntry) (string, error)
	RecordExtraction(ctx context.Context, e store.ExtractionEntry) (string, error)
}

// Deps is what the lab tools need from the rest of the program.
type Deps struct {
	Assembler    *features.Assembler
	Predictor    Predictor
	Generator    Generator
	Extractor    *instrument.Extractor
	History      History
	BaseFolder   string // experiment data root; relative tool paths resolve here
	TemplatePath string // default generation template
}

func (d *Deps) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || d.BaseFolder == "" {
		return p
	}
	return filepath.Join(d.BaseFolder, p)
}

// Tools returns every lab tool in the order they are offered to the model.
func Tools(d *Deps) []*tools.Tool {
	return []*tools.Tool{
		PerformingGenerationTool(d),
		EvaluatorTool(d),
		TerminateTool(),
		PathGeneratorTool(d),
		FolderReaderTool(),
		ExpIVTool(d),
		ExpInSituTool(d),
		FileSaverTool(d),
	}
}

// RegisterAll registers all lab tools with the given registry.
func RegisterAll(registry *tools.Registry, d *Deps) error {
	for _, tool := range Tools(d) {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
