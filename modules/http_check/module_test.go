package http_check

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pipewright/pipewright/internal/actions"
	"github.com/stretchr/testify/require"
)

func TestHTTPCheck(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		case "/teapot":
			w.WriteHeader(http.StatusTeapot)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	reg := actions.New()
	(&Module{Client: srv.Client()}).Register(reg)
	check, ok := reg.Lookup("http_check")
	require.True(t, ok)

	out, err := check(context.Background(), &actions.Input{
		With: map[string]string{"url": srv.URL + "/ok"},
	})
	require.NoError(t, err)
	require.Contains(t, out, "200")

	_, err = check(context.Background(), &actions.Input{
		With: map[string]string{"url": srv.URL + "/teapot"},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "418")

	// A non-200 expectation inverts the outcome.
	out, err = check(context.Background(), &actions.Input{
		With: map[string]string{"url": srv.URL + "/teapot", "expect": "418"},
	})
	require.NoError(t, err)
	require.Contains(t, out, "418")

	_, err = check(context.Background(), &actions.Input{
		With: map[string]string{"url": srv.URL + "/ok", "expect": "notanumber"},
	})
	require.Error(t, err)

	_, err = check(context.Background(), &actions.Input{With: map[string]string{}})
	require.Error(t, err, "url is required")
}
