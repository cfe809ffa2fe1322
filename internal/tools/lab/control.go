package lab

import (
	"context"

	"witlab/internal/tools"
)

type terminateArgs struct {
	Status tools.Text `json:"status"`
}

// TerminateTool returns the tool that ends the interaction.
func TerminateTool() *tools.Tool {
	return &tools.Tool{
		Name:        "terminate",
		Description: "Terminate the interaction when the request is met OR if the assistant cannot proceed further with the task.",
		Category:    tools.CategoryControl,
		Terminal:    true,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			var a terminateArgs
			if err := tools.Bind(args, &a); err != nil {
				return "", err
			}
			status := string(a.Status)
			if status == "" {
				status = "success"
			}
			return "The interaction has been completed with status: " + status, nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"status"},
			Properties: map[string]tools.Property{
				"status": {
					Type:        "string",
					Description: "The finish status of the interaction.",
					Enum:        []any{"success", "failure"},
				},
			},
		},
	}
}
