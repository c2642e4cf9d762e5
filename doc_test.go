package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/firecloud-go/internal/cloud"
)

func TestDoc_CreateGetPatchRemove(t *testing.T) {
	env := newCLIEnv(t, "")

	stdout, _, err := env.run(t, "doc", "create", "notes", `{"title":"hi","n":3}`, "--id", "n1")
	require.NoError(t, err)
	assert.Equal(t, "n1", strings.TrimSpace(stdout))

	wire, ok := env.fake.DocumentFields("notes/n1")
	require.True(t, ok)
	assert.JSONEq(t, `{"title":{"stringValue":"hi"},"n":{"integerValue":"3"}}`, wire)

	stdout, _, err = env.run(t, "doc", "get", "notes/n1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"hi","n":3}`, stdout)

	stdout, _, err = env.run(t, "doc", "patch", "notes/n1", `{"n":4}`, "--update-mask", "n,title")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":4}`, stdout, "title was in the update mask but not the object, so it is deleted")

	req := env.fake.LastRequest()
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Contains(t, req.RawQuery, "currentDocument.exists=true")
	assert.Contains(t, req.RawQuery, "updateMask.fieldPaths=n&updateMask.fieldPaths=title")

	_, stderr, err := env.run(t, "doc", "rm", "notes/n1")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Deleted notes/n1")

	_, _, err = env.run(t, "doc", "get", "notes/n1")
	require.Error(t, err)
	assert.ErrorIs(t, err, cloud.ErrNotFound)
}

func TestDoc_CreateGeneratedID(t *testing.T) {
	env := newCLIEnv(t, "")

	stdout, _, err := env.run(t, "doc", "create", "notes", `{"a":true}`, "--generate-id")
	require.NoError(t, err)

	id := strings.TrimSpace(stdout)
	_, err = uuid.Parse(id)
	require.NoError(t, err, "generated id %q is not a UUID", id)

	_, ok := env.fake.DocumentFields("notes/" + id)
	assert.True(t, ok)
}

func TestDoc_CreateIDFlagsExclusive(t *testing.T) {
	env := newCLIEnv(t, "")

	_, _, err := env.run(t, "doc", "create", "notes", `{}`, "--id", "x", "--generate-id")
	require.Error(t, err)
}

func TestDoc_PatchPreconditions(t *testing.T) {
	env := newCLIEnv(t, "")

	_, _, err := env.run(t, "doc", "patch", "notes/missing", `{"a":1}`)
	require.Error(t, err, "must-exist is the default")

	_, _, err = env.run(t, "doc", "patch", "notes/fresh", `{"a":1}`, "--precondition", "must-not-exist")
	require.NoError(t, err)

	_, _, err = env.run(t, "doc", "patch", "notes/fresh", `{"a":2}`, "--precondition", "must-not-exist")
	require.Error(t, err)

	_, _, err = env.run(t, "doc", "patch", "notes/fresh", `{"a":3}`, "--precondition", "none")
	require.NoError(t, err)
	assert.NotContains(t, env.fake.LastRequest().RawQuery, "currentDocument")

	_, _, err = env.run(t, "doc", "patch", "notes/fresh", `{"a":4}`, "--precondition", "maybe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid precondition")
}

func TestDoc_PatchRejectsNestedArrays(t *testing.T) {
	env := newCLIEnv(t, "")
	require.NoError(t, env.fake.SetDocument("notes/n1", `{}`))

	before := len(env.fake.Requests())

	_, _, err := env.run(t, "doc", "patch", "notes/n1", `{"grid":[[1,2],[3,4]]}`)
	require.ErrorIs(t, err, cloud.ErrEncodeRejected)

	// Only the login went out; the patch was rejected locally.
	assert.Equal(t, before+1, len(env.fake.Requests()))
}

func TestDoc_List(t *testing.T) {
	env := newCLIEnv(t, "")

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, env.fake.SetDocument("notes/"+id, `{"k":{"stringValue":"`+id+`"}}`))
	}

	stdout, stderr, err := env.run(t, "doc", "ls", "notes", "--page-size", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.True(t, strings.HasPrefix(lines[1], "a "))
	assert.True(t, strings.HasPrefix(lines[2], "b "))
	assert.Contains(t, stderr, "--page-token notes/b")

	stdout, _, err = env.run(t, "--json", "doc", "ls", "notes", "--page-token", "notes/b")
	require.NoError(t, err)

	var out docListJSON

	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Len(t, out.Documents, 1)
	assert.Equal(t, "c", out.Documents[0].ID)
	assert.Empty(t, out.NextPageToken)
}

func TestDoc_GetJSON(t *testing.T) {
	env := newCLIEnv(t, "")
	require.NoError(t, env.fake.SetDocument("notes/n1", `{"t":{"booleanValue":true}}`))

	stdout, _, err := env.run(t, "--json", "doc", "get", "notes/n1")
	require.NoError(t, err)

	var raw map[string]any

	require.NoError(t, json.Unmarshal([]byte(stdout), &raw))
	assert.Equal(t, "n1", raw["id"])
	assert.Equal(t, map[string]any{"t": true}, raw["fields"])
	assert.Contains(t, raw["name"], "/documents/notes/n1")
}
