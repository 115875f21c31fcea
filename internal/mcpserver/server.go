// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes rpFBA simulations to LLM clients via stdio transport.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/rpfba/internal/batch"
	"github.com/starford/rpfba/internal/blob"
	"github.com/starford/rpfba/internal/ledger"
	"github.com/starford/rpfba/internal/simservice"
	"github.com/starford/rpfba/internal/worker"
)

const contractURI = "rpfba://request-format"

// Service is what the tools need from the simulation service.
type Service interface {
	Simulate(ctx context.Context, req simservice.Request, input io.Reader, gem []byte, out io.Writer) (*batch.Summary, error)
	ListRuns(ctx context.Context, limit, offset int) ([]ledger.Run, int, error)
}

// Server wraps the MCP server with rpFBA tools.
type Server struct {
	mcp      *server.MCPServer
	svc      Service
	blobs    *blob.Store
	defaults worker.Params
}

// New creates an MCP server with all tools registered. defaults are the
// parameters a simulate call starts from.
func New(svc Service, blobs *blob.Store, defaults worker.Params) *Server {
	s := &Server{svc: svc, blobs: blobs, defaults: defaults}

	s.mcp = server.NewMCPServer(
		"rpFBA",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("simulate_archive",
		mcp.WithDescription("Merge each heterologous pathway model into the GEM and run flux balance analysis. "+
			"Read the request contract first via get_request_contract or the "+contractURI+" resource."),
		mcp.WithString("input", mcp.Required(),
			mcp.Description("Model archive (or one SBML model with input_format=sbml): path, s3:// location, https URL or data URI")),
		mcp.WithString("gem", mcp.Required(), mcp.Description("Genome-scale model SBML, same location forms as input")),
		mcp.WithString("output", mcp.Description("Where to write the result (path or s3:// location). Empty returns a data URI")),
		mcp.WithString("params", mcp.Description(`JSON simulation parameters, e.g. {"sim_type":"fba","target_reaction":"RP1_sink"}`)),
	), s.simulate)

	s.mcp.AddTool(mcp.NewTool("inspect_model",
		mcp.WithDescription("Summarize an SBML model: sizes, groups, objectives and stored flux results."),
		mcp.WithString("model", mcp.Required(), mcp.Description("SBML model: path, s3:// location, https URL or data URI")),
	), s.inspectModel)

	s.mcp.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List recorded batch runs, newest first."),
		mcp.WithNumber("limit", mcp.DefaultNumber(20), mcp.Min(1), mcp.Max(200), mcp.Description("Page size")),
		mcp.WithNumber("offset", mcp.DefaultNumber(0), mcp.Min(0), mcp.Description("Rows to skip")),
	), s.listRuns)

	s.mcp.AddTool(mcp.NewTool("get_request_contract",
		mcp.WithDescription("Returns the input locations, archive layout and parameters accepted by simulate_archive."),
	), s.getRequestContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Request Format Contract",
			mcp.WithResourceDescription("Inputs, parameters and results of the simulate_archive tool."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readRequestFormatResource,
	)

	return s
}

// Serve speaks MCP over r and w until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, r, w)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

type simulateResult struct {
	*batch.Summary
	Output string `json:"output"`
}

func (s *Server) simulate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	inputRef, err := req.RequireString("input")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	gemRef, err := req.RequireString("gem")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	simReq, err := simservice.DecodeRequest(s.defaults, []byte(req.GetString("params", "")))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	simReq.Source = "mcp"

	input, err := s.load(ctx, inputRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("input: %v", err)), nil
	}
	gem, err := s.load(ctx, gemRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("gem: %v", err)), nil
	}

	var out bytes.Buffer
	sum, err := s.svc.Simulate(ctx, simReq, bytes.NewReader(input), gem, &out)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res := simulateResult{Summary: sum}
	if dest := req.GetString("output", ""); dest != "" {
		if err := s.store(ctx, dest, out.Bytes()); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("output: %v", err)), nil
		}
		res.Output = dest
	} else {
		mime := "application/x-tar"
		if simReq.Format == simservice.FormatSBML {
			mime = "application/xml"
		}
		res.Output = encodeDataURI(mime, out.Bytes())
	}
	return jsonResult(res)
}

func (s *Server) store(ctx context.Context, dest string, data []byte) error {
	w, err := s.blobs.Create(ctx, dest)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (s *Server) inspectModel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireString("model")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.load(ctx, ref)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	info, err := simservice.Inspect(data)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(info)
}

func (s *Server) listRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, total, err := s.svc.ListRuns(ctx, req.GetInt("limit", 20), req.GetInt("offset", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(struct {
		Runs  []ledger.Run `json:"runs"`
		Total int          `json:"total"`
	}{runs, total})
}

func (s *Server) getRequestContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(RequestFormatContract), nil
}

func (s *Server) readRequestFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     RequestFormatContract,
		},
	}, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
