package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/shopez/ez-agent/agent/contract"
)

type llmClassifier struct {
	runner compose.Runnable[map[string]any, classifierLLMOutput]
}

type classifierLLMOutput struct {
	Label      string            `json:"label"`
	Confidence float64           `json:"confidence"`
	Slots      map[string]string `json:"slots,omitempty"`
	Language   string            `json:"language,omitempty"`
}

// NewLLMClassifier wires a chat model into a structured classification graph:
// prompt -> model -> JSON parse. The model must answer with the classifier
// schema; violations surface as errors and the extractor falls back to rules.
func NewLLMClassifier(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (contractx.Classifier, error) {
	runner, err := compileClassifierGraph(ctx, chatModel, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: compile classifier graph: %v", contractx.ErrValidation, err)
	}
	return &llmClassifier{runner: runner}, nil
}

func (c *llmClassifier) ClassifyText(ctx context.Context, text string, languageHint string) (contractx.Classification, error) {
	if strings.TrimSpace(text) == "" {
		return contractx.Classification{}, fmt.Errorf("%w: text is required", contractx.ErrValidation)
	}

	payload := map[string]any{
		"text":          text,
		"language_hint": languageHint,
	}
	inputBytes, err := json.Marshal(payload)
	if err != nil {
		return contractx.Classification{}, fmt.Errorf("%w: marshal classifier payload: %v", contractx.ErrValidation, err)
	}

	out, err := c.runner.Invoke(ctx, map[string]any{
		"input": string(inputBytes),
	})
	if err != nil {
		return contractx.Classification{}, fmt.Errorf("classifier invoke: %w", err)
	}

	return contractx.Classification{
		Label:      strings.TrimSpace(out.Label),
		Confidence: out.Confidence,
		Slots:      out.Slots,
		Language:   strings.TrimSpace(out.Language),
	}, nil
}

func compileClassifierGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
) (compose.Runnable[map[string]any, classifierLLMOutput], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{input}"),
	)

	parser := schema.NewMessageJSONParser[classifierLLMOutput](&schema.MessageJSONParseConfig{
		ParseFrom: schema.MessageParseFromContent,
	})

	graph := compose.NewGraph[map[string]any, classifierLLMOutput]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add classifier prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add classifier model node: %w", err)
	}
	if err := graph.AddLambdaNode("parse_json", compose.MessageParser(parser)); err != nil {
		return nil, fmt.Errorf("add classifier parser node: %w", err)
	}

	edges := [][2]string{
		{compose.START, "prompt"},
		{"prompt", "model"},
		{"model", "parse_json"},
		{"parse_json", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add classifier edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("nlu.classifier_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile classifier graph: %w", err)
	}
	return runner, nil
}
