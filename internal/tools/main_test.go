package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codefionn/appforge/internal/blob"
	"github.com/codefionn/appforge/internal/sandbox"
	"github.com/codefionn/appforge/internal/search"
	"github.com/codefionn/appforge/internal/store"
)

type fixture struct {
	db      *store.DB
	blobs   *blob.MemStore
	sb      *sandbox.FakeSandbox
	project *store.Project
	disp    *Dispatcher
	scope   Scope
}

func newFixture(t *testing.T, searcher search.Provider) *fixture {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	project, err := db.CreateProject(context.Background(), "user-1", "demo")
	require.NoError(t, err)

	f := &fixture{
		db:      db,
		blobs:   blob.NewMemStore(),
		sb:      sandbox.NewFakeSandbox(),
		project: project,
	}
	f.disp = NewDispatcher(Deps{
		Blobs:        f.blobs,
		Files:        db,
		Workflows:    db,
		Search:       searcher,
		ShellTimeout: 200 * time.Millisecond,
		CodeTimeout:  time.Second,
	})
	f.scope = Scope{ProjectID: project.ID, Sandbox: f.sb}
	return f
}

func (f *fixture) exec(t *testing.T, tool Name, args map[string]interface{}) *Result {
	t.Helper()
	res := f.disp.Execute(context.Background(), f.scope, Call{Tool: tool, Args: args})
	require.NotNil(t, res)
	require.NotNil(t, res.Metadata)
	return res
}
