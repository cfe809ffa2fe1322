package lab

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"witlab/internal/logging"
	"witlab/internal/predict"
	"witlab/internal/tools"
)

// Generation modes.
const (
	GenModeGenerate = "gen"
	GenModeDPO      = "dpo"
	GenModeInspect  = "ins"
)

type generationArgs struct {
	FormulaFilepath tools.Text `json:"formula_filepath"`
	Mode            tools.Text `json:"mode"`
	Num             tools.Int  `json:"num"`
}

// PerformingGenerationTool returns the formula recommendation tool.
func PerformingGenerationTool(d *Deps) *tools.Tool {
	return &tools.Tool{
		Name: "PerformingGeneration",
		Description: `Provide perovskite formula and process according to user needs.
When recommending perovskite formulas or processes to users, please use this tool.
This tool accepts the formula_filepath, the method of generating formulas, the quantity of generating formulas.
Modes: gen generates formulas, dpo runs a DPO recommendation whose results are saved to results.txt, ins inspects the template.`,
		Category: tools.CategoryLab,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return executeGeneration(ctx, d, args)
		},
		Schema: tools.ToolSchema{
			Properties: map[string]tools.Property{
				"formula_filepath": {
					Type:        "string",
					Description: "(optional) JSON template of existing formulas; the configured template is used when omitted.",
				},
				"mode": {
					Type:        "string",
					Description: "(optional) The method of generating formulas.",
					Enum:        []any{GenModeGenerate, GenModeDPO, GenModeInspect},
					Default:     GenModeGenerate,
				},
				"num": {
					Type:        "integer",
					Description: "(optional) The quantity of generating formulas.",
					Default:     1,
				},
			},
		},
	}
}

func (d *Deps) template(arg string) string {
	arg = strings.TrimSpace(arg)
	if arg == "" || arg == "none.txt" {
		return d.TemplatePath
	}
	return d.resolve(arg)
}

func executeGeneration(ctx context.Context, d *Deps, args map[string]any) (string, error) {
	var a generationArgs
	if err := tools.Bind(args, &a); err != nil {
		return "", err
	}
	template := d.template(string(a.FormulaFilepath))
	mode := string(a.Mode)
	if mode == "" {
		mode = GenModeGenerate
	}
	logging.Tools("PerformingGeneration: mode=%s template=%s num=%d", mode, template, a.Num.Or(1))

	switch mode {
	case GenModeGenerate:
		formulas, err := d.Generator.Generate(ctx, template, a.Num.Or(1))
		if err != nil {
			return "", err
		}
		out, err := json.MarshalIndent(formulas, "", "    ")
		if err != nil {
			return "", err
		}
		return "Formulas generated, as follows:\n" + string(out), nil

	case GenModeDPO:
		text, err := d.Generator.DPO(ctx, template)
		if err != nil {
			return "", err
		}
		if _, err := predict.SaveResults(d.BaseFolder, text); err != nil {
			return "", err
		}
		return text + predict.DPOSuffix, nil

	case GenModeInspect:
		return inspectTemplate(template)
	}
	return "", fmt.Errorf("invalid mode %q (valid: %s, %s, %s)", mode, GenModeGenerate, GenModeDPO, GenModeInspect)
}

// inspectTemplate summarizes a generation template without calling the service.
func inspectTemplate(path string) (string, error) {
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return "", fmt.Errorf("%w: %s", predict.ErrNotJSON, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read template: %w", err)
	}
	var records []predict.Formula
	if err := json.Unmarshal(data, &records); err != nil {
		return "", fmt.Errorf("template is not a JSON list of records: %w", err)
	}

	keys := map[string]bool{}
	for _, r := range records {
		for _, f := range r {
			keys[f.Key] = true
		}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)
	return fmt.Sprintf("Template %s: %d records, %d fields: %s", path, len(records), len(names), strings.Join(names, ", ")), nil
}
