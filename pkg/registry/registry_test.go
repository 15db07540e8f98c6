package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleWorkflow = `
id: summarize
name: summarize_doc
description: Summarize a document
entry: fetch
parameters:
 - name: url
   type: string
   required: true
steps:
 - id: fetch
   type: http
 - id: summarize
connections:
 - source: fetch
   target: summarize
`

func writeWorkflow(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestParseWorkflowFileRejectsMissingID(t *testing.T) {
	_, err := ParseWorkflowFile([]byte("entry: a\nsteps:\n - id: a\n"))
	require.Error(t, err)
}

func TestParseWorkflowFileRejectsUnknownEntry(t *testing.T) {
	_, err := ParseWorkflowFile([]byte("id: wf\nentry: missing\nsteps:\n - id: a\n"))
	require.Error(t, err)
}

func TestParseWorkflowFileRejectsDuplicateStepIDs(t *testing.T) {
	_, err := ParseWorkflowFile([]byte("id: wf\nentry: a\nsteps:\n - id: a\n - id: a\n"))
	require.Error(t, err)
}

func TestParseWorkflowFileAcceptsValidDocument(t *testing.T) {
	wf, err := ParseWorkflowFile([]byte(sampleWorkflow))
	require.NoError(t, err)
	assert.Equal(t, "summarize", wf.ID)
	assert.Equal(t, "fetch", wf.Entry)
	assert.Len(t, wf.Steps, 2)
}

func TestWorkflowFileToDefinitionPreservesGraph(t *testing.T) {
	wf, err := ParseWorkflowFile([]byte(sampleWorkflow))
	require.NoError(t, err)

	def := wf.ToDefinition()
	assert.Equal(t, "summarize", def.ID)
	assert.Equal(t, "fetch", def.Entry)
	assert.Len(t, def.Connections, 1)
	assert.Equal(t, "fetch", def.Connections[0].Source)
}

func TestWorkflowFileToWorkflowInfoDerivesSchema(t *testing.T) {
	wf, err := ParseWorkflowFile([]byte(sampleWorkflow))
	require.NoError(t, err)

	info := wf.ToWorkflowInfo()
	assert.Equal(t, "summarize_doc", info.ToolName())
	require.Len(t, info.Parameters, 1)
	assert.Equal(t, "url", info.Parameters[0].Name)
	assert.True(t, info.Parameters[0].Required)
}

func TestRegistryLoadDiscoversNestedWorkflows(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	writeWorkflow(t, dir, "summarize.yaml", sampleWorkflow)
	writeWorkflow(t, filepath.Join(dir, "nested"), "other.yml", "id: other\nentry: a\nsteps:\n - id: a\n")

	r := New()
	require.NoError(t, r.Load(dir))
	assert.Equal(t, 2, r.Len())

	wf, ok := r.Get("summarize")
	require.True(t, ok)
	assert.Equal(t, "summarize", wf.ID)

	_, ok = r.Get("other")
	assert.True(t, ok)
}

func TestRegistryLoadRejectsDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "a.yaml", sampleWorkflow)
	writeWorkflow(t, dir, "b.yaml", sampleWorkflow)

	r := New()
	err := r.Load(dir)
	require.Error(t, err)
}

func TestRegistryLoadFailsOnMalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "bad.yaml", "id: bad\nentry: missing\nsteps:\n - id: a\n")

	r := New()
	require.Error(t, r.Load(dir))
}

func TestRegistryListWorkflowsImplementsWorkflowSource(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "summarize.yaml", sampleWorkflow)

	r := New()
	require.NoError(t, r.Load(dir))

	workflows := r.ListWorkflows()
	require.Len(t, workflows, 1)
	assert.Equal(t, "summarize", workflows[0].ID)
}

func TestRegistryDefinitionResolvesByID(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "summarize.yaml", sampleWorkflow)

	r := New()
	require.NoError(t, r.Load(dir))

	def, ok := r.Definition("summarize")
	require.True(t, ok)
	assert.Equal(t, "fetch", def.Entry)

	_, ok = r.Definition("nope")
	assert.False(t, ok)
}
