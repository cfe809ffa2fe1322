package lab

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"witlab/internal/features"
	"witlab/internal/logging"
	"witlab/internal/predict"
	"witlab/internal/store"
	"witlab/internal/tools"
)

type evaluatorArgs struct {
	Etype             tools.Text  `json:"Etype"`
	FormulaPVK        tools.Text  `json:"Formula_PVK"`
	ConcentrationPVK  tools.Float `json:"Concentration_PVK"`
	SpinSpeed1        tools.Float `json:"Spin_Coating_Speed_1"`
	SpinTime1         tools.Float `json:"Spin_Coating_Time_1"`
	SpinSpeed2        tools.Float `json:"Spin_Coating_Speed_2"`
	SpinTime2         tools.Float `json:"Spin_Coating_Time_2"`
	AntisolventTiming tools.Float `json:"Antisolvent_Dropping_Timing"`
	AntisolventVolume tools.Float `json:"Antisolvent_Volume"`
	AnnealTemperature tools.Float `json:"Annealed_Temperature"`
	AnnealTime        tools.Float `json:"Annealed_Time"`
	Additive1         tools.Text  `json:"Formula_Additive_1"`
	ConcAdditive1     tools.Float `json:"Concentration_Additive_1"`
	Additive2         tools.Text  `json:"Formula_Additive_2"`
	ConcAdditive2     tools.Float `json:"Concentration_Additive_2"`
	SAM1              tools.Text  `json:"Formula_SAM_1"`
	ConcSAM1          tools.Float `json:"Concentration_SAM_1"`
	SAM2              tools.Text  `json:"Formula_SAM_2"`
	ConcSAM2          tools.Float `json:"Concentration_SAM_2"`
}

func (a evaluatorArgs) request() (features.Request, error) {
	mode, err := features.ParseMode(string(a.Etype))
	if err != nil {
		return features.Request{}, err
	}
	return features.Request{
		Mode:    mode,
		Formula: string(a.FormulaPVK),
		Process: features.Process{
			ConcentrationPVK:  a.ConcentrationPVK.Or(features.DefaultConcentrationPVK),
			SpinSpeed1:        a.SpinSpeed1.Or(0),
			SpinTime1:         a.SpinTime1.Or(0),
			SpinSpeed2:        a.SpinSpeed2.Or(0),
			SpinTime2:         a.SpinTime2.Or(0),
			AntisolventTiming: a.AntisolventTiming.Or(0),
			AntisolventVolume: a.AntisolventVolume.Or(0),
			AnnealTemperature: a.AnnealTemperature.Or(0),
			AnnealTime:        a.AnnealTime.Or(0),
		},
		Additive1: features.Selection{Value: string(a.Additive1), Concentration: a.ConcAdditive1.Or(0)},
		Additive2: features.Selection{Value: string(a.Additive2), Concentration: a.ConcAdditive2.Or(0)},
		SAM1:      features.Selection{Value: string(a.SAM1), Concentration: a.ConcSAM1.Or(0)},
		SAM2:      features.Selection{Value: string(a.SAM2), Concentration: a.ConcSAM2.Or(0)},
	}, nil
}

func number(desc string) tools.Property { return tools.Property{Type: "number", Description: desc, Default: 0} }

func slotProperty(slot features.Slot) tools.Property {
	return tools.Property{
		Type:        "string",
		Description: fmt.Sprintf("%s, one of %s; empty for none", slot.Label, strings.Join(slot.Vocabulary, ", ")),
	}
}

// EvaluatorTool returns the prediction tool.
func EvaluatorTool(d *Deps) *tools.Tool {
	return &tools.Tool{
		Name: "Evaluator",
		Description: `Predict PCE, FF, JSC, and VOC results based on perovskite formula and process.
To predict or evaluate the timing of PCE, FF, JSC, and VOC, please use this tool.
This tool receives perovskite formulas and processes for prediction and evaluation.`,
		Category: tools.CategoryLab,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return executeEvaluator(ctx, d, args)
		},
		Schema: tools.ToolSchema{
			Required: []string{"Etype", "Formula_PVK"},
			Properties: map[string]tools.Property{
				"Etype": {
					Type:        "string",
					Description: "How the formula was produced: 普通生成 (standard generation, predicted), DPO生成 (DPO generation), 其他 (other).",
					Enum:        []any{"DPO生成", "其他", "普通生成"},
					Default:     "其他",
				},
				"Formula_PVK": {
					Type:        "string",
					Description: "Perovskite formula, e.g. Cs0.05FA0.81MA0.14PbI2.55Br0.45.",
				},
				"Concentration_PVK": {
					Type:        "number",
					Description: "Concentration PVK",
					Default:     features.DefaultConcentrationPVK,
				},
				"Spin_Coating_Speed_1":        number("Spin Coating Speed 1"),
				"Spin_Coating_Time_1":         number("Spin Coating Time 1"),
				"Spin_Coating_Speed_2":        number("Spin Coating Speed 2"),
				"Spin_Coating_Time_2":         number("Spin Coating Time 2"),
				"Antisolvent_Dropping_Timing": number("Antisolvent Dropping Timing"),
				"Antisolvent_Volume":          number("Antisolvent Volume"),
				"Annealed_Temperature":        number("Annealed Temperature"),
				"Annealed_Time":               number("Annealed Time"),
				"Formula_Additive_1":          slotProperty(features.Additive1),
				"Concentration_Additive_1":    number("Concentration Additive 1"),
				"Formula_Additive_2":          slotProperty(features.Additive2),
				"Concentration_Additive_2":    number("Concentration Additive 2"),
				"Formula_SAM_1":               slotProperty(features.SAM1),
				"Concentration_SAM_1":         number("Concentration SAM 1"),
				"Formula_SAM_2":               slotProperty(features.SAM2),
				"Concentration_SAM_2":         number("Concentration SAM 2"),
			},
		},
	}
}

func executeEvaluator(ctx context.Context, d *Deps, args map[string]any) (string, error) {
	var a evaluatorArgs
	if err := tools.Bind(args, &a); err != nil {
		return "", err
	}
	req, err := a.request()
	if err != nil {
		return "", err
	}

	outcome, err := d.Assembler.Assemble(req)
	if err != nil {
		return "", err
	}
	if outcome.Record == nil {
		logging.Tools("Evaluator: mode=%s -> %q", outcome.Mode, outcome.Status)
		return outcome.Status, nil
	}

	pred, err := d.Predictor.Predict(ctx, outcome.Record)
	d.recordPrediction(ctx, req.Formula, outcome, pred, err)
	if err != nil {
		return "", fmt.Errorf("prediction failed: %w", err)
	}

	out, err := json.MarshalIndent(pred, "", "    ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (d *Deps) recordPrediction(ctx context.Context, formula string, o features.Outcome, p *predict.Prediction, predErr error) {
	if d.History == nil {
		return
	}
	rec, _ := json.Marshal(o.Record)
	e := store.PredictionEntry{
		SessionID: tools.SessionID(ctx),
		Mode:      string(o.Mode),
		Formula:   formula,
		Record:    rec,
	}
	if predErr != nil {
		e.Error = predErr.Error()
	} else {
		e.PCE, e.FF, e.Voc, e.Jsc = &p.PCE, &p.FF, &p.Voc, &p.Jsc
	}
	if _, err := d.History.RecordPrediction(context.WithoutCancel(ctx), e); err != nil {
		logging.ToolsError("Evaluator: history: %v", err)
	}
}
