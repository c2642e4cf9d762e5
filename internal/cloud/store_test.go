package cloud

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/firecloud-go/internal/jsonvalue"
)

const testDocumentsPrefix = "/v1/projects/" + testProject + "/databases/(default)/documents/"

func mustObject(t *testing.T, s string) *jsonvalue.Object {
	t.Helper()

	obj, ok := jsonvalue.MustParse(s).AsObject()
	require.True(t, ok)

	return obj
}

func TestStore_CreateAndGetDocument(t *testing.T) {
	svc, fake := newFakeService(t)
	ctx := t.Context()

	doc := mustObject(t, `{"title":"Dune","pages":412,"rating":4.5,"tags":["scifi","classic"],"meta":{"read":true,"isbn":null}}`)

	id, err := svc.Store.CreateDocument(ctx, "books", doc, "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	wire, ok := fake.DocumentFields("books/" + id)
	require.True(t, ok)
	assert.JSONEq(t, `{
		"title":{"stringValue":"Dune"},
		"pages":{"integerValue":"412"},
		"rating":{"doubleValue":4.5},
		"tags":{"arrayValue":{"values":[{"stringValue":"scifi"},{"stringValue":"classic"}]}},
		"meta":{"mapValue":{"fields":{"read":{"booleanValue":true},"isbn":{"nullValue":null}}}}
	}`, wire)

	got, err := svc.Store.GetDocument(ctx, "books/"+id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "projects/"+testProject+"/databases/(default)/documents/books/"+id, got.Name)
	assert.True(t, jsonvalue.Equal(jsonvalue.ObjectValue(doc), jsonvalue.ObjectValue(got.Fields)),
		"got %s", jsonvalue.ObjectValue(got.Fields))
	assert.False(t, got.CreateTime.IsZero())
	assert.False(t, got.UpdateTime.IsZero())
}

func TestStore_CreateDocumentWithID(t *testing.T) {
	svc, fake := newFakeService(t)

	id, err := svc.Store.CreateDocument(t.Context(), "books", mustObject(t, `{"a":1}`), "dune")
	require.NoError(t, err)
	assert.Equal(t, "dune", id)

	req := fake.LastRequest()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, testDocumentsPrefix+"books", req.Path)
	assert.Equal(t, "documentId=dune", req.RawQuery)
}

func TestStore_GetMissingDocument(t *testing.T) {
	svc, _ := newFakeService(t)

	_, err := svc.Store.GetDocument(t.Context(), "books/nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_NestedArrayRejectedBeforeSending(t *testing.T) {
	svc, fake := newFakeService(t)

	_, err := svc.Store.CreateDocument(t.Context(), "books", mustObject(t, `{"grid":[[1,2],[3,4]]}`), "")
	require.ErrorIs(t, err, ErrEncodeRejected)
	assert.Empty(t, fake.Requests())
}

func TestStore_PatchConsumesMasks(t *testing.T) {
	svc, fake := newFakeService(t)
	ctx := t.Context()
	require.NoError(t, fake.SetDocument("books/dune", `{"x":{"integerValue":"1"},"y":{"integerValue":"2"}}`))

	svc.Store.AddReadMask("x")
	svc.Store.AddUpdateMask("y")

	doc, err := svc.Store.PatchDocument(ctx, "books/dune", mustObject(t, `{"y":20}`), MustExist)
	require.NoError(t, err)
	assert.Equal(t, "currentDocument.exists=true&mask.fieldPaths=x&updateMask.fieldPaths=y", fake.LastRequest().RawQuery)

	// Read mask limits the returned fields to x.
	assert.Equal(t, []string{"x"}, doc.Fields.Keys())

	wire, _ := fake.DocumentFields("books/dune")
	assert.JSONEq(t, `{"x":{"integerValue":"1"},"y":{"integerValue":"20"}}`, wire)

	_, err = svc.Store.PatchDocument(ctx, "books/dune", mustObject(t, `{"z":true}`), MustExist)
	require.NoError(t, err)
	assert.Equal(t, "currentDocument.exists=true", fake.LastRequest().RawQuery)

	wire, _ = fake.DocumentFields("books/dune")
	assert.JSONEq(t, `{"z":{"booleanValue":true}}`, wire)
}

func TestStore_PatchMultipleMaskFields(t *testing.T) {
	svc, fake := newFakeService(t)
	require.NoError(t, fake.SetDocument("c/d", `{}`))

	svc.Store.AddReadMask("a", "b")
	svc.Store.AddUpdateMask("c")
	svc.Store.AddUpdateMask("d")

	_, err := svc.Store.PatchDocument(t.Context(), "c/d", mustObject(t, `{"c":1}`), MustExist)
	require.NoError(t, err)
	assert.Equal(t,
		"currentDocument.exists=true&mask.fieldPaths=a&mask.fieldPaths=b&updateMask.fieldPaths=c&updateMask.fieldPaths=d",
		fake.LastRequest().RawQuery)
}

func TestStore_PatchPreconditions(t *testing.T) {
	svc, fake := newFakeService(t)
	ctx := t.Context()

	_, err := svc.Store.PatchDocument(ctx, "books/new", mustObject(t, `{"a":1}`), MustExist)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Store.PatchDocument(ctx, "books/new", mustObject(t, `{"a":1}`), MustNotExist)
	require.NoError(t, err)
	assert.Equal(t, "currentDocument.exists=false", fake.LastRequest().RawQuery)

	_, err = svc.Store.PatchDocument(ctx, "books/new", mustObject(t, `{"a":2}`), MustNotExist)
	require.ErrorIs(t, err, ErrInvalidRequest)

	doc, err := svc.Store.PatchDocument(ctx, "books/new", mustObject(t, `{"a":3}`), NoPrecondition)
	require.NoError(t, err)
	assert.Empty(t, fake.LastRequest().RawQuery)

	a, _ := doc.Fields.Get("a")
	n, _ := a.AsInt()
	assert.Equal(t, int64(3), n)
}

func TestStore_PatchIsSingleAttempt(t *testing.T) {
	svc, fake := newFakeService(t)
	require.NoError(t, fake.SetDocument("c/d", `{}`))
	fake.FailNext(http.StatusInternalServerError)

	_, err := svc.Store.PatchDocument(t.Context(), "c/d", mustObject(t, `{"a":1}`), MustExist)
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Len(t, fake.Requests(), 1)
}

func TestStore_RemoveDocument(t *testing.T) {
	svc, fake := newFakeService(t)
	require.NoError(t, fake.SetDocument("c/d", `{}`))

	require.NoError(t, svc.Store.RemoveDocument(t.Context(), "c/d"))

	_, ok := fake.DocumentFields("c/d")
	assert.False(t, ok)
	assert.Equal(t, http.MethodDelete, fake.LastRequest().Method)
}

func TestStore_ListDocumentsPaged(t *testing.T) {
	svc, fake := newFakeService(t)
	ctx := t.Context()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, fake.SetDocument("shelf/"+id, `{"n":{"stringValue":"`+id+`"}}`))
	}

	require.NoError(t, fake.SetDocument("other/z", `{}`))

	page, err := svc.Store.ListDocuments(ctx, "shelf", ListOptions{PageSize: 2, Mask: []string{"n"}})
	require.NoError(t, err)
	require.Len(t, page.Documents, 2)
	assert.Equal(t, "a", page.Documents[0].ID)
	assert.Equal(t, "b", page.Documents[1].ID)
	assert.NotEmpty(t, page.NextPageToken)
	assert.True(t, strings.Contains(fake.LastRequest().RawQuery, "pageSize=2"))

	page, err = svc.Store.ListDocuments(ctx, "shelf", ListOptions{PageSize: 2, PageToken: page.NextPageToken})
	require.NoError(t, err)
	require.Len(t, page.Documents, 1)
	assert.Equal(t, "c", page.Documents[0].ID)
	assert.Empty(t, page.NextPageToken)

	n, _ := page.Documents[0].Fields.Get("n")
	assert.Equal(t, `"c"`, n.String())
}

func TestStore_ListEmptyCollection(t *testing.T) {
	svc, _ := newFakeService(t)

	page, err := svc.Store.ListDocuments(t.Context(), "empty", ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, page.Documents)
}

func TestStore_SendsBearerAfterLogin(t *testing.T) {
	svc, fake := newFakeService(t)
	require.NoError(t, fake.SetDocument("c/d", `{}`))

	_, err := svc.Store.GetDocument(t.Context(), "c/d")
	require.NoError(t, err)
	assert.Empty(t, fake.LastRequest().Header.Get("Authorization"))

	require.NoError(t, svc.Identity.Login(t.Context(), testEmail, testPassword))

	_, err = svc.Store.GetDocument(t.Context(), "c/d")
	require.NoError(t, err)
	assert.Equal(t, "Bearer "+svc.Identity.AccessToken(), fake.LastRequest().Header.Get("Authorization"))
}

func TestPreconditionString(t *testing.T) {
	assert.Equal(t, "must-exist", MustExist.String())
	assert.Equal(t, "must-not-exist", MustNotExist.String())
	assert.Equal(t, "none", NoPrecondition.String())
	assert.Equal(t, "precondition(9)", Precondition(9).String())
}

func TestStore_MasksClearedWhenPatchRejected(t *testing.T) {
	svc, fake := newFakeService(t)
	ctx := t.Context()
	require.NoError(t, fake.SetDocument("books/dune", `{"x":{"integerValue":"1"}}`))

	svc.Store.AddReadMask("x")
	svc.Store.AddUpdateMask("x")

	_, err := svc.Store.PatchDocument(ctx, "books/dune", mustObject(t, `{"x":[[1]]}`), MustExist)
	require.ErrorIs(t, err, ErrEncodeRejected)

	_, err = svc.Store.PatchDocument(ctx, "books/dune", mustObject(t, `{"x":2}`), NoPrecondition)
	require.NoError(t, err)
	assert.Empty(t, fake.LastRequest().RawQuery)
}
