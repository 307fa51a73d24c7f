package dialogue

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
)

func (s *Service) compileHandleMessageGraph(
	ctx context.Context,
) (compose.Runnable[GraphInput, GraphOutput], error) {
	graph := compose.NewGraph[GraphInput, GraphOutput]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in GraphInput) (*GraphState, error) {
			return ValidateRequest(in, s.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("load_or_create_conversation",
		compose.InvokableLambda(func(ctx context.Context, in *GraphState) (*GraphState, error) {
			return LoadOrCreateConversation(ctx, in, s.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_or_create_conversation: %w", err)
	}

	if err := graph.AddLambdaNode("resolve_stale_flow",
		compose.InvokableLambda(func(ctx context.Context, in *GraphState) (*GraphState, error) {
			return ResolveStaleFlow(in, s.timeout)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node resolve_stale_flow: %w", err)
	}

	if err := graph.AddLambdaNode("classify_intent",
		compose.InvokableLambda(func(ctx context.Context, in *GraphState) (*GraphState, error) {
			return ClassifyIntent(ctx, in, s.extractor, s.classifyTimeout)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node classify_intent: %w", err)
	}

	if err := graph.AddLambdaNode("decide",
		compose.InvokableLambda(func(ctx context.Context, in *GraphState) (*GraphState, error) {
			return Decide(ctx, in, s.engine, s.decideTimeout)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node decide: %w", err)
	}

	if err := graph.AddLambdaNode("compose_reply",
		compose.InvokableLambda(func(ctx context.Context, in *GraphState) (*GraphState, error) {
			return ComposeReply(in, s.composer)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node compose_reply: %w", err)
	}

	if err := graph.AddLambdaNode("save_conversation",
		compose.InvokableLambda(func(ctx context.Context, in *GraphState) (*GraphState, error) {
			return SaveConversation(ctx, in, s.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node save_conversation: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_reply",
		compose.InvokableLambda(func(ctx context.Context, in *GraphState) (GraphOutput, error) {
			return FinalizeReply(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_reply: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "load_or_create_conversation"},
		{"load_or_create_conversation", "resolve_stale_flow"},
		{"resolve_stale_flow", "classify_intent"},
		{"classify_intent", "decide"},
		{"decide", "compose_reply"},
		{"compose_reply", "save_conversation"},
		{"save_conversation", "finalize_reply"},
		{"finalize_reply", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("dialogue.handle_message"))
	if err != nil {
		return nil, fmt.Errorf("compile dialogue graph: %w", err)
	}
	return runner, nil
}
