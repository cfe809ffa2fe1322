package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"witlab/internal/agent"
	"witlab/internal/llm"
)

// runCmd executes a single instruction
var runCmd = &cobra.Command{
	Use:   "run [instruction]",
	Short: "Run one request through the tool-calling agent",
	Long: `Sends a natural language request to the WIT agent, which may call the lab
tools (generation, prediction, folder navigation, IV/in-situ extraction, file
saving) until it answers or terminates.

Example:
  wit run "Predict PCE for Cs0.05FA0.81MA0.14PbI2.55Br0.45 with 4PACz as SAM 1"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInstruction,
}

var quietSteps bool

func init() {
	runCmd.Flags().BoolVarP(&quietSteps, "quiet", "q", false, "Only print the final answer")

	suggestCmd.Flags().StringVar(&suggestContext, "context", "", "JSON list of example records to learn from")
	suggestCmd.Flags().IntVarP(&suggestCount, "num", "n", 1, "Number of parameter sets to request")
	suggestCmd.Flags().Float64Var(&suggestPCEMin, "pce-min", 21, "Lower PCE bound (%)")
	suggestCmd.Flags().Float64Var(&suggestPCEMax, "pce-max", 23, "Upper PCE bound (%)")
}

func runInstruction(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ag, err := a.newAgent(ctx)
	if err != nil {
		return err
	}
	if !quietSteps {
		ag.OnEvent(func(e agent.Event) {
			fmt.Fprintln(cmd.ErrOrStderr(), formatEvent(e))
		})
	}

	input := joinArgs(args)
	logger.Info("Processing instruction", zap.Int("chars", len(input)))
	res, err := ag.Run(ctx, input)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Response)
	logger.Info("Instruction complete",
		zap.Int("iterations", res.Iterations),
		zap.Int("tool_calls", res.ToolCallsExecuted),
		zap.Duration("duration", res.Duration))
	return nil
}

// formatEvent renders one progress line for the terminal.
func formatEvent(e agent.Event) string {
	switch e.Kind {
	case agent.EventThought:
		return "✨ " + e.Text
	case agent.EventToolCall:
		return fmt.Sprintf("🔧 %s %s", e.Tool, formatArgs(e.Args))
	case agent.EventToolResult:
		status := "✓"
		if e.Failed {
			status = "✗"
		}
		return fmt.Sprintf("%s %s (%dms)\n%s", status, e.Tool, e.Elapsed.Milliseconds(), indent(e.Text, "   "))
	}
	return e.Text
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, 0, len(args))
	for _, k := range sortedKeys(args) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

var (
	suggestContext string
	suggestCount   int
	suggestPCEMin  float64
	suggestPCEMax  float64
)

// suggestCmd asks the model for new parameter sets
var suggestCmd = &cobra.Command{
	Use:   "suggest [question]",
	Short: "Ask the model for new fabrication parameter sets",
	Long: `Asks the LLM, acting as a perovskite materials expert, for new parameter sets
similar to the given example data. Without a question the request is
"Generate diversify N sets of perovskite data PCE of MIN%-MAX% ...".

Example:
  wit suggest --context data/data_pvk_dpo_1th.json -n 3`,
	RunE: runSuggest,
}

func runSuggest(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	var data string
	if suggestContext != "" {
		var err error
		data, err = agent.LoadContext(suggestContext)
		if err != nil {
			return err
		}
	}

	client, err := llm.NewClient(ctx, cfg)
	if err != nil {
		return err
	}
	out, err := agent.Suggest(ctx, client, agent.SuggestRequest{
		Context:  data,
		Count:    suggestCount,
		PCEMin:   suggestPCEMin,
		PCEMax:   suggestPCEMax,
		Question: joinArgs(args),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}
