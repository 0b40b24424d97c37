package mcpserver

// NoteFormatContract describes the frontmatter the processing agent reads
// and writes on Snippets notes.
const NoteFormatContract = `# Snippets Note Format Contract

Every note is one Markdown file with YAML frontmatter. Snippets owns the
file name and location; agents change notes only through the tools.

## Structure

` + "```" + `markdown
---
id: 20260114-093000-1a2b3c4d       # assigned by Snippets, never change
created: 2026-01-14T09:30:00Z      # assigned by Snippets
updated: 2026-01-14T09:31:12Z      # refreshed on every write
folderPath: inbox                  # physical folder, change with move_note
status: queued                     # raw | queued | processing | processed | failed
title: Buy groceries               # OPTIONAL
kind: action                       # OPTIONAL classification
themes:                            # OPTIONAL list
  - home
summary: Weekly groceries run      # OPTIONAL
actionability: clear               # OPTIONAL
classificationConfidence: 0.9      # OPTIONAL, 0..1
suggestedActions:                  # OPTIONAL
  - type: task
    label: Order groceries online
    assignee: agent                # agent | user
    priority: medium               # low | medium | high
connections:                       # OPTIONAL ids of related notes
  - 20260110-180000-9f8e7d6c
---

Note body in Markdown.
` + "```" + `

## Rules

1. **Do not edit id or created.** They are preserved on every write.
2. **Folders** are relative, forward-slash paths (` + "`" + `work/ideas` + "`" + `). No ` + "`" + `..` + "`" + `, no
   leading slash. Built-in folders: inbox, knowledge, actions, ideas, journal, reference.
3. **Workflow:** list_pending, start_processing, patch_note, move_note, then
   finish_processing for each note.
4. **suggestedActions** assigned to ` + "`" + `agent` + "`" + ` can be dispatched back to you by the user.
   Report their outcome with complete_action using the Action ID from the task.
5. **Notes you create** must go through create_note so Snippets assigns the id.
   Never write files directly.
6. **Frontmatter keys** are English camelCase schema fields. Values and body may use
   any language.
`
