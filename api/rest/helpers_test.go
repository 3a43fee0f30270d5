package rest_test

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/tilequest/server/app"
	"github.com/tilequest/server/config"
	mw "github.com/tilequest/server/middleware"
	"github.com/tilequest/server/testutil/apptest"
)

type server struct {
	a *app.App
	r *gin.Engine
}

func newServer(t *testing.T, mutate ...func(*config.Config)) *server {
	t.Helper()
	a := apptest.New(t, mutate...)
	return &server{a: a, r: a.Router()}
}

func token(t *testing.T, userID int64, name string) string {
	t.Helper()
	tok, err := mw.GenerateToken(userID, name, apptest.JWTSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends method path with an optional JSON body. headers alternates
// key, value.
func (s *server) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)
	return w
}

func (s *server) as(t *testing.T, tok, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, method, path, body, "Authorization", "Bearer "+tok)
}

func (s *server) admin(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, method, path, body, mw.AdminKeyHeader, apptest.AdminKey)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func errorText(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, w, &body)
	return body.Error
}
