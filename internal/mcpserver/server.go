// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the Snippets note workflow to the processing agent.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/snippets/internal/apperr"
	"github.com/starford/snippets/internal/jobs"
	"github.com/starford/snippets/internal/models"
	"github.com/starford/snippets/internal/noteservice"
)

const noteFormatURI = "snippets://note-format"

// Completer records agent action callbacks.
type Completer interface {
	CompleteAction(ctx context.Context, noteID string, idx int, c jobs.Completion) (*models.Job, error)
}

// Server wraps the MCP server with Snippets tools.
type Server struct {
	mcp  *server.MCPServer
	svc  *noteservice.Service
	jobs Completer
}

// New creates a new MCP server with all Snippets tools registered. When
// completer is nil the complete_action tool is left out.
func New(svc *noteservice.Service, completer Completer) *Server {
	s := &Server{svc: svc, jobs: completer}

	s.mcp = server.NewMCPServer(
		"Snippets",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_pending",
		mcp.WithDescription("List the notes waiting for processing, with their content and current frontmatter."),
	), s.listPending)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note's frontmatter and content by id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id, e.g. 20260101-090000-1a2b3c4d")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Capture a new note. Snippets assigns the id and queues it for processing. "+
			"Use the returned id as linkedNoteId when reporting an action result."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown body, at least 3 characters")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("patch_note",
		mcp.WithDescription("Merge enrichment fields into a note's frontmatter. "+
			"Read the contract first via get_note_contract or the "+noteFormatURI+" resource."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("frontmatter", mcp.Required(), mcp.Description("JSON object with the fields to set (kind, themes, summary, actionability, suggestedActions, ...)")),
	), s.patchNote)

	s.mcp.AddTool(mcp.NewTool("move_note",
		mcp.WithDescription("Move a note to another folder. Folders are created on demand."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("folderPath", mcp.Required(), mcp.Description("Relative folder path such as work/ideas")),
	), s.moveNote)

	s.mcp.AddTool(mcp.NewTool("start_processing",
		mcp.WithDescription("Mark a pending note as being processed."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.startProcessing)

	s.mcp.AddTool(mcp.NewTool("finish_processing",
		mcp.WithDescription("Mark a note processed and remove it from the pending queue."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.finishProcessing)

	if completer != nil {
		s.mcp.AddTool(mcp.NewTool("complete_action",
			mcp.WithDescription("Report the outcome of an agent action dispatched by Snippets."),
			mcp.WithString("noteId", mcp.Required(), mcp.Description("Id of the note owning the action")),
			mcp.WithNumber("actionIndex", mcp.Required(), mcp.Description("Zero-based index into suggestedActions")),
			mcp.WithString("jobId", mcp.Required(), mcp.Description("Action ID given in the task")),
			mcp.WithString("status", mcp.Required(), mcp.Enum("completed", "failed")),
			mcp.WithString("result", mcp.Description("Short result text, start success with ✓")),
			mcp.WithString("linkedNoteId", mcp.Description("Id of a note created for this action")),
			mcp.WithString("linkedNoteTitle", mcp.Description("Title of that note")),
		), s.completeAction)
	}

	s.mcp.AddTool(mcp.NewTool("get_tree",
		mcp.WithDescription("Return the folder tree with notes and folder icons."),
	), s.getTree)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the Snippets note frontmatter contract. "+
			"Call this before patching notes to ensure correct structure."),
	), s.getNoteContract)

	s.mcp.AddResource(
		mcp.NewResource(noteFormatURI, "Note Format Contract",
			mcp.WithResourceDescription("Frontmatter fields the agent may set on a note."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// HTTPHandler serves the tools over streamable HTTP.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// toolError turns a domain error into a tool-level error result.
func toolError(err error) (*mcp.CallToolResult, error) {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError("not found: " + err.Error()), nil
	}
	return mcp.NewToolResultError(err.Error()), nil
}

func (s *Server) listPending(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids, err := s.svc.Pending(ctx)
	if err != nil {
		return toolError(err)
	}
	notes := make([]*models.Note, 0, len(ids))
	for _, id := range ids {
		n, err := s.svc.Store().Get(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return toolError(err)
		}
		notes = append(notes, n)
	}
	return jsonResult(notes)
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.Store().Get(ctx, id)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(n)
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.Capture(ctx, content)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(n)
}

func (s *Server) patchNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("frontmatter")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var patch models.MetadataPatch
	if err := json.Unmarshal([]byte(raw), &patch); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("frontmatter is not a valid JSON object: %v", err)), nil
	}
	if patch.Empty() {
		return mcp.NewToolResultError("frontmatter has no known fields"), nil
	}
	n, err := s.svc.Store().PatchMetadata(ctx, id, patch)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(n)
}

func (s *Server) moveNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	folder, err := req.RequireString("folderPath")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.Store().Move(ctx, id, folder)
	if err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("moved %s to %s", n.ID(), n.Metadata.FolderPath)), nil
}

func (s *Server) startProcessing(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.svc.StartProcessing(ctx, id); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText("processing: " + id), nil
}

func (s *Server) finishProcessing(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.svc.FinishProcessing(ctx, id); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText("processed: " + id), nil
}

func (s *Server) completeAction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	noteID, err := req.RequireString("noteId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	idx, err := req.RequireFloat("actionIndex")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if idx < 0 || idx != float64(int(idx)) {
		return mcp.NewToolResultError("actionIndex must be a non-negative integer"), nil
	}
	jobID, err := req.RequireString("jobId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	status, err := req.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	job, err := s.jobs.CompleteAction(ctx, noteID, int(idx), jobs.Completion{
		JobID:           jobID,
		Status:          models.JobStatus(strings.TrimSpace(status)),
		Result:          req.GetString("result", ""),
		LinkedNoteID:    req.GetString("linkedNoteId", ""),
		LinkedNoteTitle: req.GetString("linkedNoteTitle", ""),
	})
	if err != nil {
		return toolError(err)
	}
	return jsonResult(job)
}

func (s *Server) getTree(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tree, err := s.svc.Store().Tree(ctx)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(tree)
}

func (s *Server) getNoteContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      noteFormatURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}
