package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amaumene/lapis/internal/config"
	"github.com/amaumene/lapis/internal/plugins"
)

type fakeReddit struct {
	*httptest.Server
	tokens   atomic.Int32
	comments atomic.Int32
	reject   atomic.Bool // answer 401 once to the next API call
	limited  atomic.Bool // answer 429 once to the next API call
}

func newFakeReddit(t *testing.T) *fakeReddit {
	t.Helper()
	f := &fakeReddit{}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = r.ParseForm()
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "LapisMirror", r.PostForm.Get("username"))
		n := f.tokens.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": fmt.Sprintf("token-%d", n),
			"expires_in":   3600,
		})
	})

	api := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if f.reject.CompareAndSwap(true, false) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if f.limited.CompareAndSwap(true, false) {
				w.Header().Set("X-Ratelimit-Reset", "0.01")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("/r/pics/new", api(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"kind":"Listing","data":{"children":[
			{"kind":"t3","data":{"name":"t3_b","id":"b","url":"https://i.tumblr.com/x.png","selftext":"","author":"bob","subreddit":"pics","permalink":"/r/pics/comments/b/_/","created_utc":1700000100,"is_self":false}},
			{"kind":"t3","data":{"name":"t3_a","id":"a","url":"https://www.reddit.com/r/pics/comments/a/_/","selftext":"see https://gyazo.com/abc","author":"alice","subreddit":"pics","permalink":"/r/pics/comments/a/_/","created_utc":1700000000,"is_self":true}}
		]}}`))
	}))

	mux.HandleFunc("/api/comment", api(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.comments.Add(1)
		if r.PostForm.Get("thing_id") == "t3_locked" {
			_, _ = w.Write([]byte(`{"json":{"errors":[["THREAD_LOCKED","that thread is locked","parent"]]}}`))
			return
		}
		assert.Equal(t, "json", r.PostForm.Get("api_type"))
		assert.NotEmpty(t, r.PostForm.Get("text"))
		_, _ = w.Write([]byte(`{"json":{"errors":[],"data":{"things":[]}}}`))
	}))

	mux.HandleFunc("/comments/a", api(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"kind":"Listing","data":{"children":[{"kind":"t3","data":{"name":"t3_a","author":"alice"}}]}},
			{"kind":"Listing","data":{"children":[{"kind":"t1","data":{"author":"lapismirror","body":"mirror"}}]}}
		]`))
	}))
	mux.HandleFunc("/comments/b", api(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"kind":"Listing","data":{"children":[{"kind":"t3","data":{"name":"t3_b","author":"bob"}}]}},
			{"kind":"Listing","data":{"children":[]}}
		]`))
	}))

	mux.HandleFunc("/r/private/new", api(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func newTestClient(f *fakeReddit) *Client {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	c := NewClient(&config.Config{
		RedditClientID:     "client",
		RedditClientSecret: "secret",
		RedditUsername:     "LapisMirror",
		RedditPassword:     "hunter2",
		UserAgent:          "LapisMirror/test",
	}, f.Client(), logger)
	c.baseURL = f.URL
	c.authURL = f.URL + "/api/v1/access_token"
	return c
}

func TestNewSubmissions(t *testing.T) {
	f := newFakeReddit(t)
	c := newTestClient(f)

	subs, err := c.NewSubmissions(context.Background(), "pics", 2)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	assert.Equal(t, "t3_b", subs[0].ID)
	assert.Equal(t, "https://i.tumblr.com/x.png", subs[0].Body)
	assert.Equal(t, "bob", subs[0].Author)
	assert.Equal(t, int64(1700000100), subs[0].CreatedAt.Unix())

	assert.Equal(t, "t3_a", subs[1].ID)
	assert.Equal(t, "see https://gyazo.com/abc", subs[1].Body, "self posts only carry their text")

	// The token is reused across calls
	_, err = c.NewSubmissions(context.Background(), "pics", 2)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.tokens.Load())
}

func TestExecute_ReauthorizesOnUnauthorized(t *testing.T) {
	f := newFakeReddit(t)
	c := newTestClient(f)

	_, err := c.NewSubmissions(context.Background(), "pics", 2)
	require.NoError(t, err)

	f.reject.Store(true)
	_, err = c.NewSubmissions(context.Background(), "pics", 2)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.tokens.Load())
}

func TestExecute_WaitsForRateLimit(t *testing.T) {
	f := newFakeReddit(t)
	c := newTestClient(f)

	f.limited.Store(true)
	subs, err := c.NewSubmissions(context.Background(), "pics", 2)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestExecute_StatusError(t *testing.T) {
	f := newFakeReddit(t)
	c := newTestClient(f)

	_, err := c.NewSubmissions(context.Background(), "private", 2)
	var statusErr *plugins.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.Code)
	assert.False(t, plugins.IsTransient(err))
}

func TestExecute_BadCredentials(t *testing.T) {
	f := newFakeReddit(t)
	c := newTestClient(f)
	c.clientSecret = "wrong"

	_, err := c.NewSubmissions(context.Background(), "pics", 2)
	assert.ErrorContains(t, err, "failed to authorize")
}

func TestReply(t *testing.T) {
	f := newFakeReddit(t)
	c := newTestClient(f)

	require.NoError(t, c.Reply(context.Background(), "t3_a", "[Imgur](https://i.imgur.com/x.png)"))
	assert.ErrorContains(t, c.Reply(context.Background(), "t3_locked", "text"), "THREAD_LOCKED")
	assert.Equal(t, int32(2), f.comments.Load())
}

func TestHasReplied(t *testing.T) {
	f := newFakeReddit(t)
	c := newTestClient(f)

	replied, err := c.HasReplied(context.Background(), "t3_a")
	require.NoError(t, err)
	assert.True(t, replied, "author match is case insensitive")

	replied, err = c.HasReplied(context.Background(), "t3_b")
	require.NoError(t, err)
	assert.False(t, replied)
}

func TestResetAfter(t *testing.T) {
	assert.Equal(t, "2s", resetAfter("2").String())
	assert.Equal(t, "1.5s", resetAfter(" 1.5 ").String())
	assert.Equal(t, "1s", resetAfter("").String())
	assert.Equal(t, "1s", resetAfter("soon").String())
}
