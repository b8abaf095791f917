package membership

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIDirectoryFindContestMemberByID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/getContestMember", r.URL.Path)
		assert.Equal(t, "test-api-token", r.Header.Get("x-token"))
		assert.Equal(t, "icpc2025", r.URL.Query().Get("alias"))
		assert.Equal(t, "u1", r.URL.Query().Get("userId"))

		fmt.Fprint(w, `{"success":true,"code":0,"data":{"id":"u1","name":"Alice","broadcasterToken":"tok"}}`)
	}))
	defer ts.Close()

	directory := NewAPIDirectory(ts.URL, "test-api-token")

	member, err := directory.FindContestMemberByID(context.Background(), "icpc2025", "u1")
	assert.Nil(t, err)
	assert.Equal(t, "u1", member.ID)
	assert.Equal(t, "tok", member.BroadcasterToken)
}

func TestAPIDirectoryNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"code":100001,"msg":"live contest not found"}`)
	}))
	defer ts.Close()

	directory := NewAPIDirectory(ts.URL, "")

	_, err := directory.FindContestByAlias(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAPIDirectoryHTTPNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	directory := NewAPIDirectory(ts.URL, "")

	_, err := directory.FindContestByAlias(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
