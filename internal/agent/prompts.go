package agent

import (
	"fmt"
	"strings"
)

// ProcessNoteTask asks the agent to work through the pending queue.
func ProcessNoteTask(noteID string) Task {
	return Task{
		Name:      "Snippets",
		Message:   ProcessNotePrompt(noteID),
		WithModel: true,
	}
}

// ProcessNotePrompt describes the pending-queue workflow.
func ProcessNotePrompt(noteID string) string {
	return fmt.Sprintf("Process Snippets pending queue now. Newly created note id: %s. "+
		"Use snippets-ai workflow: read /api/pending, process each note, classify + set folderPath, "+
		"move with /api/notes/<id>/move, update frontmatter, then DELETE /api/pending/<id>.", noteID)
}

// ActionRequest carries what the action prompt needs.
type ActionRequest struct {
	Label         string
	JobID         string
	CallbackURL   string
	CreateNoteURL string
	// AuthToken, when set, is added to every curl example as a bearer
	// header.
	AuthToken string
}

// ActionTask builds the task for one agent action dispatch.
func ActionTask(r ActionRequest) Task {
	return Task{
		Name:    "Snippets Action: " + r.Label,
		Message: "Action ID: " + r.JobID + "\n\n" + ActionPrompt(r),
	}
}

// ActionPrompt tells the agent how to run the action and report back.
func ActionPrompt(r ActionRequest) string {
	auth := ""
	if r.AuthToken != "" {
		auth = fmt.Sprintf(" -H 'Authorization: Bearer %s'", r.AuthToken)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Execute this Snippets agent action:\n\n**%s**\n\n", r.Label)
	b.WriteString("IMPORTANT: when done, report status back to Snippets backend by calling the callback URL with JSON.\n\n")
	b.WriteString("If your action creates a new note, you MUST create it via the API so Snippets assigns a proper ID:\n\n")
	fmt.Fprintf(&b, "curl -sS -X POST '%s' -H 'Content-Type: application/json'%s -d '{\"content\":\"<FULL_MARKDOWN_CONTENT>\"}'\n\n", r.CreateNoteURL, auth)
	b.WriteString("The response JSON has shape { \"frontmatter\": { \"id\": \"...\" }, ... }. Extract the id with: curl ... | jq -r .frontmatter.id\n")
	b.WriteString("Use that exact id as linkedNoteId in your callback below. Do NOT write note files to disk directly.\n\n")
	fmt.Fprintf(&b, "- On success, run:\ncurl -sS -X POST '%s' -H 'Content-Type: application/json'%s -d '{\"jobId\":\"%s\",\"status\":\"completed\",\"result\":\"<YOUR_RESULT_HERE>\",\"linkedNoteId\":\"<NOTE_ID_FROM_API_RESPONSE>\",\"linkedNoteTitle\":\"<NOTE_TITLE>\"}'\n\n", r.CallbackURL, auth, r.JobID)
	fmt.Fprintf(&b, "- On failure, run:\ncurl -sS -X POST '%s' -H 'Content-Type: application/json'%s -d '{\"jobId\":\"%s\",\"status\":\"failed\",\"result\":\"<EXPLAIN_FAILURE_HERE>\"}'\n\n", r.CallbackURL, auth, r.JobID)
	b.WriteString("Rules for result text:\n")
	b.WriteString("- Keep it concise (max 200 words) and start success with ✓\n")
	b.WriteString("- Do NOT include filesystem paths like /home/... or notes/...\n")
	b.WriteString("- linkedNoteId MUST be the exact id returned by POST /api/notes, never guess or fabricate an id\n")
	b.WriteString("- Escape any double quotes in JSON values with backslash")
	return b.String()
}
