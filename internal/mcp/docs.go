package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverInstructions = `atelier hosts real-time creative sessions: several users edit one shared canvas and concurrent edits are reconciled automatically.

Core concepts:
- Session: a live room with an owner, collaborators, settings and a shared state (theme, generation params, media, comments).
- Operation: one edit (create, update, delete, move, style_change, parameter_change, media_upload, comment, cursor_move, selection) on a target id.
- Conflict: two operations on the same target less than one second apart, or any operation on a deleted target.

Workflow:
1) create_session (you become the owner) or join_session.
2) submit_operation / submit_operations for edits; update_cursor_position and add_comment are shortcuts.
   - status "applied": your edit went in unchanged.
   - status "transformed": it was merged with a concurrent edit; read "applied" for what reached the log.
   - status "dropped": the target was deleted.
3) get_session_state to see the shared state and the last operations.
4) export_session to archive the full log; leave_session when done. The owner may end_session.

Identity: tools act as user_id when given, otherwise as the caller (X-User-Id header on HTTP, _meta.user_id on stdio).

Docs:
- atelier://docs/index
- atelier://docs/operations
- atelier://docs/conflicts
`

type docResource struct {
	URI         string
	Name        string
	Title       string
	Description string
	Content     string
}

var docResources = []docResource{
	{
		URI:         "atelier://docs/index",
		Name:        "docs_index",
		Title:       "atelier docs index",
		Description: "Entry point: tools by task and where to read more.",
		Content: `# atelier: Docs Index

## Tools by task

| task | tool |
|---|---|
| start or enter a session | create_session, join_session |
| edit | submit_operation, submit_operations, update_cursor_position, add_comment |
| look | get_session_state, get_presence, list_sessions |
| audit | export_session, get_archived_session, list_archived_sessions, get_recent_activity |
| finish | leave_session, end_session, cleanup_inactive_sessions |

## Permissions

Every session maps permission groups to permissions:

- all: view, comment
- collaborators: view, edit, comment
- owner: view, edit, comment, admin

Comments need comment. Cursor moves and selections need view. end_session needs admin. Every other edit needs edit.

## Read next

- atelier://docs/operations for payload shapes
- atelier://docs/conflicts for how concurrent edits are reconciled
`,
	},
	{
		URI:         "atelier://docs/operations",
		Name:        "docs_operations",
		Title:       "Operation payloads",
		Description: "The data each operation type expects and what it changes.",
		Content: `# Operation payloads

| type | data | effect |
|---|---|---|
| create | any fields | logged only |
| update | non-empty fields | target "theme" sets current_theme from data.value |
| delete | none | later edits of the target within reach are dropped |
| move | {"position": {"x", "y"}} | logged only |
| style_change | non-empty fields | logged only |
| parameter_change | non-empty params | merged into generation_params |
| media_upload | {"type", "url"} | appended to media_assets |
| comment | {"text"} | appended to comments |
| cursor_move | {"x", "y"} | sets the user's cursor |
| selection | fields, empty clears | sets the user's selection |

Invalid payloads are rejected with INVALID_OPERATION before reaching the session.
`,
	},
	{
		URI:         "atelier://docs/conflicts",
		Name:        "docs_conflicts",
		Title:       "Conflict resolution",
		Description: "How concurrent edits on one target are merged.",
		Content: `# Conflict resolution

Two operations conflict when they share a target and their timestamps are less than one second apart. A delete conflicts with every later operation on its target.

Resolution, in timestamp order:

- Any conflict with a delete drops the operation.
- update against update merges fields: numbers are averaged, the longer string wins, otherwise the newer value wins.
- move against move spreads positions apart: an axis closer than 10 is pushed 15 further along.
- Every other pair is kept as submitted but records the conflict.

A rewritten operation gets a new id and timestamp and lists the ids it conflicted with in "conflicts". The submitter sees status "transformed".
`,
	},
}

func registerDocResources(server *sdkmcp.Server) {
	for _, doc := range docResources {
		doc := doc

		server.AddResource(&sdkmcp.Resource{
			URI:         doc.URI,
			Name:        doc.Name,
			Title:       doc.Title,
			Description: doc.Description,
			MIMEType:    "text/markdown",
			Size:        int64(len(doc.Content)),
		}, func(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
			uri := doc.URI
			if req != nil && req.Params != nil && req.Params.URI != "" {
				uri = req.Params.URI
			}
			return &sdkmcp.ReadResourceResult{
				Contents: []*sdkmcp.ResourceContents{{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     doc.Content,
				}},
			}, nil
		})
	}
}
