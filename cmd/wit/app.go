package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"witlab/internal/agent"
	"witlab/internal/config"
	"witlab/internal/features"
	"witlab/internal/instrument"
	"witlab/internal/llm"
	"witlab/internal/predict"
	"witlab/internal/store"
	"witlab/internal/tools"
	"witlab/internal/tools/lab"
)

// app holds the components one command invocation needs.
type app struct {
	cfg       *config.Config
	registry  *tools.Registry
	extractor *instrument.Extractor
	history   *store.History // nil when history is disabled or unavailable
}

// newApp wires the lab tools from configuration. A history database that
// cannot be opened is logged and skipped.
func newApp(c *config.Config) (*app, error) {
	a := &app{
		cfg: c,
		extractor: instrument.NewExtractor(instrument.Options{
			Layout:        instrument.Layout(c.Extraction.Layout),
			FailurePolicy: instrument.FailurePolicy(c.Extraction.FailurePolicy),
			MaxLines:      c.Extraction.MaxLines,
			Workers:       c.Extraction.Workers,
			Dir:           c.Storage.BaseFolder,
		}),
	}

	if c.Storage.HistoryPath != "" {
		h, err := store.Open(c.Storage.HistoryPath)
		if err != nil {
			logger.Warn("history disabled", zap.String("path", c.Storage.HistoryPath), zap.Error(err))
		} else {
			a.history = h
		}
	}

	deps := &lab.Deps{
		Assembler: features.NewAssemblerWith(features.AssemblerOptions{
			Policy:           features.Policy(c.Encoding.OnUnknownValue),
			ImplicitFraction: c.Encoding.ImplicitFraction,
		}),
		Predictor: predict.NewClient(predict.Config{
			BaseURL: c.Services.Prediction.BaseURL,
			Timeout: c.GetPredictionTimeout(),
		}),
		Generator: predict.NewGenerator(predict.Config{
			BaseURL: c.Services.Generation.BaseURL,
			Timeout: c.GetGenerationTimeout(),
		}),
		Extractor:    a.extractor,
		BaseFolder:   c.Storage.BaseFolder,
		TemplatePath: c.Services.Generation.TemplatePath,
	}
	if a.history != nil {
		deps.History = a.history
	}

	a.registry = tools.NewRegistry()
	if err := lab.RegisterAll(a.registry, deps); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return a, nil
}

// Close releases the history database.
func (a *app) Close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			logger.Warn("failed to close history", zap.Error(err))
		}
	}
}

// newAgent creates the chat client and the tool-calling agent.
func (a *app) newAgent(ctx context.Context) (*agent.Agent, error) {
	client, err := llm.NewClient(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	return agent.New(client, a.registry, agent.NewSession(a.cfg.Agent.SessionWindow), agent.Config{
		MaxIterations:  a.cfg.Agent.MaxIterations,
		ToolTimeout:    a.cfg.GetToolTimeout(),
		NextStepPrompt: agent.NextStepPrompt,
	}), nil
}

// runTool executes one lab tool directly, the same way the agent would.
func (a *app) runTool(ctx context.Context, name string, args map[string]any) (string, error) {
	logger.Debug("running tool", zap.String("tool", name), zap.Any("args", args))
	res, err := a.registry.Execute(tools.WithSessionID(ctx, "cli"), name, args)
	if err != nil {
		return "", err
	}
	return res.Result, nil
}
