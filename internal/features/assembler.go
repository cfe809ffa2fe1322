package features

import (
	"fmt"
	"strings"

	"witlab/internal/formula"
)

// Mode is the closed set of ways a formula reached evaluation.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeDPO      Mode = "dpo"
	ModeOther    Mode = "other"
)

// Fixed status strings returned instead of a record.
const (
	StatusDPO   = "evaluation finished, DPO evaluation results saved"
	StatusOther = "data format does not meet requirements, evaluation finished"
)

// ParseMode accepts the English mode names and the lab's original labels.
func ParseMode(s string) (Mode, error) {
	switch strings.TrimSpace(s) {
	case "standard", "gen", "普通生成":
		return ModeStandard, nil
	case "dpo", "DPO", "DPO生成":
		return ModeDPO, nil
	case "other", "其他", "":
		return ModeOther, nil
	}
	return "", fmt.Errorf("unknown evaluation mode %q", s)
}

// Scalar column names, in record order.
const (
	ColConcentrationPVK  = "Concentration PVK"
	ColSpinSpeed1        = "Spin Coating Speed 1"
	ColSpinTime1         = "Spin Coating Time 1"
	ColSpinSpeed2        = "Spin Coating Speed 2"
	ColSpinTime2         = "Spin Coating Time 2"
	ColAntisolventTiming = "Antisolvent Dropping Timing"
	ColAntisolventVolume = "Antisolvent Volume"
	ColAnnealTemperature = "Annealed Temperature"
	ColAnnealTime        = "Annealed Time"
)

// DefaultConcentrationPVK is used when no PVK concentration is supplied.
const DefaultConcentrationPVK = 1.73

// Process holds the scalar fabrication parameters.
type Process struct {
	ConcentrationPVK  float64
	SpinSpeed1        float64
	SpinTime1         float64
	SpinSpeed2        float64
	SpinTime2         float64
	AntisolventTiming float64
	AntisolventVolume float64
	AnnealTemperature float64
	AnnealTime        float64
}

func (p Process) columns() []Feature {
	return []Feature{
		{ColConcentrationPVK, p.ConcentrationPVK},
		{ColSpinSpeed1, p.SpinSpeed1},
		{ColSpinTime1, p.SpinTime1},
		{ColSpinSpeed2, p.SpinSpeed2},
		{ColSpinTime2, p.SpinTime2},
		{ColAntisolventTiming, p.AntisolventTiming},
		{ColAntisolventVolume, p.AntisolventVolume},
		{ColAnnealTemperature, p.AnnealTemperature},
		{ColAnnealTime, p.AnnealTime},
	}
}

// Selection is the chosen value of a categorical slot.
type Selection struct {
	Value         string
	Concentration float64
}

// Request is everything needed to assemble a record.
type Request struct {
	Mode      Mode
	Formula   string
	Process   Process
	Additive1 Selection
	Additive2 Selection
	SAM1      Selection
	SAM2      Selection
}

// Outcome is either a Record (standard mode) or a Status string.
type Outcome struct {
	Mode   Mode
	Record *Record
	Status string
}

// Assembler builds feature records.
type Assembler struct {
	parser  *formula.Parser
	encoder *Encoder
}

// AssemblerOptions configures NewAssemblerWith.
type AssemblerOptions struct {
	Policy Policy
	// ImplicitFraction is passed to the formula parser.
	ImplicitFraction float64
}

// NewAssembler wires a formula parser and slot encoder sharing one policy.
func NewAssembler(policy Policy) *Assembler {
	return NewAssemblerWith(AssemblerOptions{Policy: policy})
}

// NewAssemblerWith is NewAssembler with the full option set.
func NewAssemblerWith(o AssemblerOptions) *Assembler {
	fp := formula.PolicyZero
	if o.Policy == PolicyStrict {
		fp = formula.PolicyStrict
	}
	return &Assembler{
		parser:  formula.NewParser(formula.Options{Policy: fp, ImplicitFraction: o.ImplicitFraction}),
		encoder: NewEncoder(o.Policy),
	}
}

// Assemble routes on mode. Only ModeStandard produces a record; callers must
// check Outcome.Record before using it.
func (a *Assembler) Assemble(req Request) (Outcome, error) {
	switch req.Mode {
	case ModeDPO:
		return Outcome{Mode: ModeDPO, Status: StatusDPO}, nil
	case ModeOther:
		return Outcome{Mode: ModeOther, Status: StatusOther}, nil
	case ModeStandard:
	default:
		return Outcome{}, fmt.Errorf("unknown evaluation mode %q", req.Mode)
	}

	rec, err := a.Build(req)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Mode: ModeStandard, Record: rec}, nil
}

// Build assembles a record regardless of mode.
func (a *Assembler) Build(req Request) (*Record, error) {
	comp, err := a.parser.Parse(req.Formula)
	if err != nil {
		return nil, err
	}

	rec := newRecord(len(formula.Elements) + 9 + 4*len(SAM1.Vocabulary))
	for _, el := range formula.Elements {
		rec.add(el, comp[el])
	}
	for _, f := range req.Process.columns() {
		rec.add(f.Name, f.Value)
	}

	selections := []Selection{req.Additive1, req.Additive2, req.SAM1, req.SAM2}
	for i, slot := range Slots {
		cols, err := a.encoder.Encode(slot, selections[i].Value, selections[i].Concentration)
		if err != nil {
			return nil, err
		}
		for _, f := range cols {
			rec.add(f.Name, f.Value)
		}
	}
	return rec, nil
}
