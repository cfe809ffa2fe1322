package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"witlab/internal/tools/lab"
)

var (
	predictEtype  string
	predictParams map[string]string

	genTemplate string
	genNum      int
	genInspect  bool

	lsStepInto string
	lsDepth    int

	pathTest int
	pathType string
)

func init() {
	predictCmd.Flags().StringVar(&predictEtype, "etype", "普通生成", "Evaluation mode: 普通生成 (standard), DPO生成, 其他")
	predictCmd.Flags().StringToStringVarP(&predictParams, "param", "p", nil,
		"Process parameter by tool argument name, e.g. -p Spin_Coating_Speed_1=4000 -p Formula_SAM_1=4PACz")

	generateCmd.Flags().StringVar(&genTemplate, "template", "", "JSON template (default: services.generation.template_path)")
	generateCmd.Flags().IntVarP(&genNum, "num", "n", 1, "Number of formulas")
	generateCmd.Flags().BoolVar(&genInspect, "inspect", false, "Only summarize the template")
	dpoCmd.Flags().StringVar(&genTemplate, "template", "", "JSON template (default: services.generation.template_path)")

	lsCmd.Flags().StringVar(&lsStepInto, "step-into", "", "Sub-directory to step into first")
	lsCmd.Flags().IntVarP(&lsDepth, "depth", "d", 1, "Maximum depth")

	pathCmd.Flags().IntVar(&pathTest, "test", -1, "Test number (omitted when negative)")
	pathCmd.Flags().StringVar(&pathType, "type", "IV", "Result type: IV or In-situ")
}

// predictCmd predicts device metrics for a formula
var predictCmd = &cobra.Command{
	Use:   "predict [formula]",
	Short: "Predict PCE, FF, Voc and Jsc for a formula and process",
	Long: `Assembles the feature record for a perovskite formula and process parameters
and sends it to the prediction service.

Example:
  wit predict Cs0.05FA0.81MA0.14PbI2.55Br0.45 -p Concentration_PVK=1.5 -p Formula_Additive_1=MACl -p Concentration_Additive_1=0.1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		toolArgs := paramArgs(predictParams)
		toolArgs["Etype"] = predictEtype
		toolArgs["Formula_PVK"] = args[0]
		return runLabTool(cmd, "Evaluator", toolArgs)
	},
}

// paramArgs converts key=value flags, keeping numeric values as numbers.
func paramArgs(params map[string]string) map[string]any {
	out := make(map[string]any, len(params)+2)
	for k, v := range params {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
			continue
		}
		out[k] = v
	}
	return out
}

// generateCmd requests generated formulas
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate candidate formulas from a template",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := lab.GenModeGenerate
		if genInspect {
			mode = lab.GenModeInspect
		}
		return runLabTool(cmd, "PerformingGeneration", map[string]any{
			"formula_filepath": genTemplate,
			"mode":             mode,
			"num":              genNum,
		})
	},
}

// dpoCmd requests a DPO recommendation
var dpoCmd = &cobra.Command{
	Use:   "dpo",
	Short: "Request a DPO recommendation (saved to <base_folder>/results.txt)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLabTool(cmd, "PerformingGeneration", map[string]any{
			"formula_filepath": genTemplate,
			"mode":             lab.GenModeDPO,
		})
	},
}

// lsCmd lists a directory tree
var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory tree (default: the experiment data folder)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Storage.BaseFolder
		if len(args) == 1 {
			path = args[0]
		}
		return runLabTool(cmd, "folder_reader", map[string]any{
			"path":      path,
			"step_into": lsStepInto,
			"depth":     lsDepth,
		})
	},
}

// pathCmd prints a result folder path
var pathCmd = &cobra.Command{
	Use:   "path [exp-id]",
	Short: "Print <base_folder>/<exp-id>/all/<type>[/<test>]",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		toolArgs := map[string]any{"exp_id": args[0], "path_type": pathType}
		if pathTest >= 0 {
			toolArgs["test_number"] = pathTest
		}
		return runLabTool(cmd, "path_generator", toolArgs)
	},
}

// runLabTool runs a lab tool and prints its result.
func runLabTool(cmd *cobra.Command, name string, args map[string]any) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.runTool(ctx, name, args)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(out, "\n"))
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
