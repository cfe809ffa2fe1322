package lab

import (
	"context"

	"witlab/internal/instrument"
	"witlab/internal/logging"
	"witlab/internal/store"
	"witlab/internal/tools"
)

type ivArgs struct {
	Files tools.StringList `json:"IV_file"`
}

func fileListSchema(name string) tools.ToolSchema {
	return tools.ToolSchema{
		Required: []string{name},
		Properties: map[string]tools.Property{
			name: {
				Type:        "array",
				Description: "List of file names",
				Items:       &tools.PropertyItems{Type: "string"},
			},
		},
	}
}

// ExpIVTool returns the IV extraction tool.
func ExpIVTool(d *Deps) *tools.Tool {
	return &tools.Tool{
		Name: "exp_IV",
		Description: `Process and analyze IV test results based on uploaded files with names that strictly follow the format: <dirname>/IV_Number1_YYYYMMDD_Number2_Number3_CHX.txt
For example: <dirname>/IV_1_20240914_201_201_CH1.txt, where 'IV' represents the current-voltage (IV) test,
'YYYYMMDD' is the date, 'Number1' is the test number, 'Number2' and 'Number3' are numeric parameters, and 'CHX' is the channel number.
Returns Voc, Isc, FF and Efficiency for each file.`,
		Category: tools.CategoryLab,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return executeExpIV(ctx, d, args)
		},
		Schema: fileListSchema("IV_file"),
	}
}

func executeExpIV(ctx context.Context, d *Deps, args map[string]any) (string, error) {
	var a ivArgs
	if err := tools.Bind(args, &a); err != nil {
		return "", err
	}
	report, err := d.Extractor.Extract(ctx, a.Files)
	if err != nil {
		return "", err
	}
	d.recordExtraction(ctx, report)
	return report.Render(), nil
}

func (d *Deps) recordExtraction(ctx context.Context, r *instrument.Report) {
	if d.History == nil || r.Aborted {
		return
	}
	for _, rec := range r.Records {
		metrics := make(map[string]string, len(rec.Metrics))
		for _, m := range rec.Metrics {
			metrics[m.Name] = m.Value
		}
		_, err := d.History.RecordExtraction(context.WithoutCancel(ctx), store.ExtractionEntry{
			SessionID: tools.SessionID(ctx),
			File:      rec.File,
			Metrics:   metrics,
		})
		if err != nil {
			logging.ToolsError("exp_IV: history: %v", err)
			return
		}
	}
}

type inSituArgs struct {
	Files tools.StringList `json:"InSitu_file"`
	Alias tools.StringList `json:"IV_file"`
}

// ExpInSituTool returns the in-situ validation tool.
func ExpInSituTool(d *Deps) *tools.Tool {
	return &tools.Tool{
		Name: "exp_Insitu",
		Description: `Process and analyze In-situ test results based on uploaded file names that strictly follow the format: <dirname>/GP_Abs_YYYYMMDD_Number1_Number2.csv.
For example: <dirname>/GP_Abs_20240914_201_201.csv, where 'GP_Abs' represents the In-situ test,
'YYYYMMDD' denotes the date, and 'Number1' and 'Number2' are numeric parameters.`,
		Category: tools.CategoryLab,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			var a inSituArgs
			if err := tools.Bind(args, &a); err != nil {
				return "", err
			}
			files := a.Files
			if len(files) == 0 {
				files = a.Alias
			}
			return d.Extractor.SummarizeInSitu(files).Render(), nil
		},
		Schema: tools.ToolSchema{
			Properties: fileListSchema("InSitu_file").Properties,
		},
	}
}
