package ui

import (
	"sync"

	"reportapp/internal/core"

	"github.com/google/uuid"
)

// Workspace is the server-side page state of one signed-in browser session.
// Handlers hold mu while they read or mutate it.
type Workspace struct {
	mu sync.Mutex

	Runner *ReportRunner

	// Dashboard form state that outlives a redirect.
	Preview     *core.ImportPreview
	PreviewFile string
	PreviewData []byte
	Sheets      []string
	Sheet       string
	Editing     *core.ReportDefinition
}

// Workspaces maps the session's workspace id to its state.
type Workspaces struct {
	mu    sync.Mutex
	items map[string]*Workspace
}

func NewWorkspaces() *Workspaces {
	return &Workspaces{items: make(map[string]*Workspace)}
}

// Get returns the workspace for id, creating a fresh one (with a new id)
// when id is empty or unknown.
func (ws *Workspaces) Get(id string) (string, *Workspace) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if w, ok := ws.items[id]; ok && id != "" {
		return id, w
	}
	id = uuid.NewString()
	w := &Workspace{Runner: NewReportRunner()}
	ws.items[id] = w
	return id, w
}

func (ws *Workspaces) Drop(id string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	delete(ws.items, id)
}

func (ws *Workspaces) Len() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.items)
}
