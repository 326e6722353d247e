// Package mcp exposes the assistant to MCP clients over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/opsassist/internal/models"
	"github.com/joescharf/opsassist/internal/session"
	"github.com/joescharf/opsassist/internal/workflow"
)

// Poller reads execution progress.
type Poller interface {
	Poll(handle string) (models.ExecutionResult, error)
}

// Server wraps the dispatcher and exposes it as MCP tools.
type Server struct {
	dispatcher *workflow.Dispatcher
	sessions   *session.Manager
	exec       Poller
	version    string
}

// NewServer creates the MCP server wrapper.
func NewServer(d *workflow.Dispatcher, sessions *session.Manager, exec Poller, version string) *Server {
	return &Server{dispatcher: d, sessions: sessions, exec: exec, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("opsassist", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.classifyTool())
	srv.AddTool(s.queryTool())
	srv.AddTool(s.listPlansTool())
	srv.AddTool(s.approvePlanTool())
	srv.AddTool(s.rejectPlanTool())
	srv.AddTool(s.pollExecutionTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	return server.NewStdioServer(s.MCPServer()).Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) session(request mcp.CallToolRequest) (*session.Session, *mcp.CallToolResult) {
	id, err := request.RequireString("session")
	if err != nil {
		return nil, mcp.NewToolResultError("missing required parameter: session")
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	return sess, nil
}

// ops_classify
func (s *Server) classifyTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ops_classify",
		mcp.WithDescription("Classify an operations query into an intent (chat, system_info, system_check, troubleshoot, performance, command_exec) with confidence and extracted parameters."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The user's query")),
	)
	return tool, s.handleClassify
}

func (s *Server) handleClassify(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	ir := s.dispatcher.Classify(q)
	return jsonResult(map[string]any{
		"intent":       ir.Intent,
		"confidence":   ir.Confidence,
		"matched_rule": ir.MatchedRule,
		"params":       ir.Params,
		"pipeline":     workflow.PipelineFor(ir.Intent).StageNames(),
	})
}

// ops_query
func (s *Server) queryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ops_query",
		mcp.WithDescription("Run a query through its pipeline and wait for the report. Omit session to start a new one; the session id is returned for follow-up calls."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The user's query")),
		mcp.WithString("session", mcp.Description("Existing session id")),
	)
	return tool, s.handleQuery
}

type queryOut struct {
	SessionID       string                 `json:"session_id"`
	Intent          models.Intent          `json:"intent"`
	Response        string                 `json:"response"`
	Stages          []workflow.StageResult `json:"stages"`
	Plans           []models.FixPlan       `json:"plans,omitempty"`
	ExecutionHandle string                 `json:"execution_handle,omitempty"`
	Error           string                 `json:"error,omitempty"`
}

func (s *Server) handleQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	sess := s.sessions.GetOrCreate(request.GetString("session", ""))
	rep, err := s.dispatcher.Handle(ctx, sess, q)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return jsonResult(queryOut{
		SessionID:       sess.ID,
		Intent:          rep.Intent.Intent,
		Response:        rep.Response,
		Stages:          rep.Stages,
		Plans:           rep.Plans,
		ExecutionHandle: rep.ExecutionHandle,
		Error:           rep.Error,
	})
}

// ops_list_plans
func (s *Server) listPlansTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ops_list_plans",
		mcp.WithDescription("List a session's fix plans in proposal order, including follow-ups, with their status and commands."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session id")),
		mcp.WithString("status", mcp.Description("Filter by status: proposed, approved, rejected, executing, completed")),
	)
	return tool, s.handleListPlans
}

func (s *Server) handleListPlans(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := s.session(request)
	if errResult != nil {
		return errResult, nil
	}
	status := models.PlanStatus(request.GetString("status", ""))
	out := make([]models.FixPlan, 0)
	for _, p := range sess.Plans.List() {
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, p)
	}
	return jsonResult(out)
}

// ops_approve_plan
func (s *Server) approvePlanTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ops_approve_plan",
		mcp.WithDescription("Approve a proposed fix plan and start executing it on the target host. Returns the execution handle to poll."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session id")),
		mcp.WithString("plan_id", mcp.Required(), mcp.Description("Plan id, e.g. plan-1 or plan-1.followup-1")),
	)
	return tool, s.handleApprovePlan
}

func (s *Server) handleApprovePlan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := s.session(request)
	if errResult != nil {
		return errResult, nil
	}
	pid, err := request.RequireString("plan_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: plan_id"), nil
	}
	handle, err := s.dispatcher.ApproveAndExecute(ctx, sess, pid)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to execute plan %s: %v", pid, err)), nil
	}
	return jsonResult(map[string]string{"plan_id": pid, "handle": handle})
}

// ops_reject_plan
func (s *Server) rejectPlanTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ops_reject_plan",
		mcp.WithDescription("Reject a proposed fix plan."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session id")),
		mcp.WithString("plan_id", mcp.Required(), mcp.Description("Plan id")),
	)
	return tool, s.handleRejectPlan
}

func (s *Server) handleRejectPlan(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := s.session(request)
	if errResult != nil {
		return errResult, nil
	}
	pid, err := request.RequireString("plan_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: plan_id"), nil
	}
	if err := sess.Plans.Reject(pid); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to reject plan %s: %v", pid, err)), nil
	}
	sess.State.RecordAction("reject_plan", map[string]string{"plan": pid})
	return mcp.NewToolResultText(fmt.Sprintf("Rejected %s", pid)), nil
}

// ops_poll_execution
func (s *Server) pollExecutionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ops_poll_execution",
		mcp.WithDescription("Get the current progress of an execution: per-command state, output and errors. Safe to call repeatedly."),
		mcp.WithString("handle", mcp.Required(), mcp.Description("Execution handle returned by ops_approve_plan")),
	)
	return tool, s.handlePollExecution
}

func (s *Server) handlePollExecution(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	handle, err := request.RequireString("handle")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: handle"), nil
	}
	res, err := s.exec.Poll(handle)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(struct {
		models.ExecutionResult
		Outcome string `json:"outcome"`
	}{res, res.Outcome()})
}
