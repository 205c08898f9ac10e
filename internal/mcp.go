package internal

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type AnswerToolInput struct {
	Question string `json:"question" jsonschema:"the question to answer from the document collection"`
}

type AnswerToolOutput struct {
	Text     string `json:"text"`
	Citation string `json:"citation,omitempty"`
}

type IndexStatusToolInput struct{}

// MCPServer exposes the answer path as MCP tools over stdio.
type MCPServer struct {
	backend Backend
	server  *mcp.Server
}

func NewMCPServer(backend Backend, version string) *MCPServer {
	s := &MCPServer{
		backend: backend,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "docqa",
			Version: version,
		}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "answer",
		Description: "Answer a question using only the indexed documents; cites the best matching source file",
	}, s.handleAnswer)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "index_status",
		Description: "Report the number of indexed chunks, the embedding model and files waiting to be ingested",
	}, s.handleIndexStatus)

	return s
}

func (s *MCPServer) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *MCPServer) handleAnswer(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AnswerToolInput,
) (*mcp.CallToolResult, AnswerToolOutput, error) {
	ans := s.backend.Ask(ctx, input.Question)
	return nil, AnswerToolOutput{Text: ans.Text, Citation: ans.Citation}, nil
}

func (s *MCPServer) handleIndexStatus(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ IndexStatusToolInput,
) (*mcp.CallToolResult, IndexStatus, error) {
	st, err := s.backend.Status(ctx)
	if err != nil {
		return nil, IndexStatus{}, err
	}
	return nil, st, nil
}
