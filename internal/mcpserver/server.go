// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the media pipeline as tools via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/xhsdl/internal/apperr"
	"github.com/starford/xhsdl/internal/events"
	"github.com/starford/xhsdl/internal/ledger"
	"github.com/starford/xhsdl/internal/models"
	"github.com/starford/xhsdl/internal/pipeline"
)

const guideURI = "xhsdl://naming-template"

// Pipeline is the part of *pipeline.Orchestrator the tools use.
type Pipeline interface {
	Collect(ctx context.Context, text string) ([]models.RemoteMedia, error)
	Run(ctx context.Context, text string) (pipeline.Result, error)
	Describe(ctx context.Context, text string) (string, error)
	Events() *events.Broker
}

var _ Pipeline = (*pipeline.Orchestrator)(nil)

// Server wraps the MCP server with the download tools.
type Server struct {
	mcp    *server.MCPServer
	pipe   Pipeline
	ledger ledger.Ledger
}

// New creates a new MCP server with all tools registered.
func New(pipe Pipeline, l ledger.Ledger, version string) *Server {
	s := &Server{pipe: pipe, ledger: l}

	s.mcp = server.NewMCPServer(
		"xhsdl",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("collect_media",
		mcp.WithDescription("Find the images and videos that the links in a share text point to. "+
			"Nothing is downloaded; returns the media list as JSON."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Share text containing one or more note links")),
	), s.collectMedia)

	s.mcp.AddTool(mcp.NewTool("download_media",
		mcp.WithDescription("Download every image and video the share text links to into the media library. "+
			"Returns the run summary and its log."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Share text containing one or more note links")),
	), s.downloadMedia)

	s.mcp.AddTool(mcp.NewTool("describe_note",
		mcp.WithDescription("Return the caption of the first note the share text links to."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Share text containing a note link")),
	), s.describeNote)

	s.mcp.AddTool(mcp.NewTool("list_downloads",
		mcp.WithDescription("List previously saved media, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum entries to return (default 20)")),
		mcp.WithNumber("offset", mcp.Description("Entries to skip")),
	), s.listDownloads)

	s.mcp.AddResource(
		mcp.NewResource(guideURI, "Naming Template",
			mcp.WithResourceDescription("Tokens and rules of the file naming template."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuideResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) collectMedia(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	media, err := s.pipe.Collect(ctx, text)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(media, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

type downloadResult struct {
	pipeline.Result
	Log []string `json:"log"`
}

func (s *Server) downloadMedia(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	broker := s.pipe.Events()
	ch := broker.Subscribe()
	lines := make(chan []string, 1)
	go func() { lines <- collectLog(ch) }()

	res, runErr := s.pipe.Run(ctx, text)
	broker.Sync()
	broker.Unsubscribe(ch)
	logLines := <-lines

	if runErr != nil && !errors.Is(runErr, apperr.ErrNoMediaFound) {
		return mcp.NewToolResultError(runErr.Error()), nil
	}

	out := downloadResult{Result: res, Log: logLines}
	data, _ := json.MarshalIndent(out, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}

// collectLog gathers log lines from ch until it is closed.
func collectLog(ch <-chan events.Event) []string {
	var lines []string
	for e := range ch {
		if e.Type == events.TypeLog {
			lines = append(lines, e.Line())
		}
	}
	return lines
}

func (s *Server) describeNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	desc, err := s.pipe.Describe(ctx, text)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(desc), nil
}

func (s *Server) listDownloads(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.ledger == nil {
		return mcp.NewToolResultError("download history is disabled"), nil
	}
	limit := req.GetInt("limit", 20)
	offset := req.GetInt("offset", 0)

	entries, total, err := s.ledger.List(ctx, limit, offset)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("no downloads (total %d)", total)), nil
	}
	out, _ := json.MarshalIndent(map[string]any{"total": total, "entries": entries}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readGuideResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      guideURI,
			MIMEType: "text/markdown",
			Text:     NamingTemplateGuide,
		},
	}, nil
}
