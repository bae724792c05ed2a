package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Config{BaseURL: server.URL})
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: "not a url"})
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "localhost:8080"})
	assert.Error(t, err)
}

func TestCreateSession(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/sessions", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Session{ID: "sess-1", Status: StatusUploading})
	}))

	session, err := c.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", session.ID)
	assert.Equal(t, StatusUploading, session.Status)
}

func TestUploadFileSendsMultipart(t *testing.T) {
	var gotName string
	var gotBody []byte

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/sessions/sess-1/files", r.URL.Path)
		require.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		gotName = header.Filename
		gotBody, err = io.ReadAll(file)
		require.NoError(t, err)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(UploadedFile{ID: "f1", Name: header.Filename, Category: "fuel"})
	}))

	uploaded, err := c.UploadFile(context.Background(), "sess-1", "fleet-fuel.csv",
		strings.NewReader("activity,quantity,unit\ndiesel,10,l\n"))
	require.NoError(t, err)
	assert.Equal(t, "fleet-fuel.csv", gotName)
	assert.Contains(t, string(gotBody), "diesel")
	assert.Equal(t, "fuel", uploaded.Category)
}

func TestAPIErrorDecoded(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"error": "processing already started"}`)
	}))

	_, err := c.StartProcessing(context.Background(), "sess-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "processing already started", apiErr.Message)
}

func TestAPIErrorNonJSONBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "upstream gone")
	}))

	_, err := c.GetSession(context.Background(), "sess-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestListExports(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/sessions/sess-1/exports", r.URL.Path)
		json.NewEncoder(w).Encode(map[string][]Export{
			"exports": {
				{Name: "emissions.csv", SizeBytes: 120},
				{Name: "results.json", SizeBytes: 480},
			},
		})
	}))

	exports, err := c.ListExports(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, exports, 2)
	assert.Equal(t, "emissions.csv", exports[0].Name)
}

func TestDownloadExport(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/sessions/sess-1/exports/results.json", r.URL.Path)
		io.WriteString(w, `{"total_co2e_kg": 268}`)
	}))

	var buf bytes.Buffer
	require.NoError(t, c.DownloadExport(context.Background(), "sess-1", "results.json", &buf))
	assert.Contains(t, buf.String(), "268")
}

func TestSubmitFeedback(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "positive", payload["type"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Feedback{SessionID: "sess-1", Type: payload["type"], Content: payload["content"]})
	}))

	fb, err := c.SubmitFeedback(context.Background(), "sess-1", "positive", "great report")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", fb.SessionID)
	assert.Equal(t, "positive", fb.Type)
}

func TestGetResultsOrPlaceholderNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close() // client now dials a dead address

	c, err := New(Config{BaseURL: server.URL})
	require.NoError(t, err)

	results, live, err := c.GetResultsOrPlaceholder(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.False(t, live)
	require.NotNil(t, results)
	assert.Equal(t, "sess-1", results.SessionID)
	assert.Greater(t, results.TotalCO2eKg, 0.0)
}

func TestGetResultsOrPlaceholderAPIErrorPassthrough(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error": "results not ready"}`)
	}))

	results, live, err := c.GetResultsOrPlaceholder(context.Background(), "sess-1")
	assert.Nil(t, results)
	assert.False(t, live)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestListAgentsOrPlaceholderFallback(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	c, err := New(Config{BaseURL: server.URL})
	require.NoError(t, err)

	agents, live := c.ListAgentsOrPlaceholder(context.Background())
	assert.False(t, live)
	assert.NotEmpty(t, agents)
}

// Guard against the multipart writer producing a body the stdlib parser
// cannot read back.
func TestMultipartRoundTrip(t *testing.T) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "a.csv")
	require.NoError(t, err)
	_, err = io.WriteString(part, "x")
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	reader := multipart.NewReader(&body, writer.Boundary())
	p, err := reader.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "a.csv", p.FileName())
}
