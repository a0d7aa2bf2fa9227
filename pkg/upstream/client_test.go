package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barakah-labs/minaret/pkg/errs"
)

func TestGetJSONDecodesAndIdentifies(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"data":{"name":"Al-Fatihah"}}`))
	}))
	defer srv.Close()

	var out struct {
		Code int `json:"code"`
		Data struct {
			Name string `json:"name"`
		} `json:"data"`
	}
	c := New("quran")
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, &out))

	assert.Equal(t, 200, out.Code)
	assert.Equal(t, "Al-Fatihah", out.Data.Name)
	assert.Equal(t, UserAgent, gotUA)
	assert.Equal(t, "application/json", gotAccept)
}

func TestGetJSONClassifiesClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such surah", http.StatusNotFound)
	}))
	defer srv.Close()

	err := New("quran").GetJSON(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindUpstream, errs.KindOf(err))
	assert.Contains(t, err.Error(), "404")
}

func TestGetJSONRetriesTransient5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream flap", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New("hadith", WithRetryPolicy(SyncRetryPolicy(3, time.Millisecond)))
	var out map[string]bool
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, &out))
	assert.True(t, out["ok"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestNewSyncClientRetriesToSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream flap", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	// The sync-path constructor carries the transient-5xx retry policy out
	// of the box.
	c := NewSyncClient("aladhan", time.Second, 3, time.Millisecond)
	var out map[string]bool
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, &out))
	assert.True(t, out["ok"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetJSONRetriesExhaust(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "still down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New("hadith", WithRetryPolicy(SyncRetryPolicy(3, time.Millisecond)))
	err := c.GetJSON(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindUpstream, errs.KindOf(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDefaultPolicyDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := New("quran").GetJSON(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindUpstream, errs.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetJSONRejectsNonJSONContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	err := New("aladhan").GetJSON(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindProtocol, errs.KindOf(err))
}

func TestGetJSONRejectsUndecodableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"truncated":`))
	}))
	defer srv.Close()

	var out map[string]any
	err := New("aladhan").GetJSON(context.Background(), srv.URL, &out)
	require.Error(t, err)
	assert.Equal(t, errs.KindProtocol, errs.KindOf(err))
}

func TestPostJSONSendsBody(t *testing.T) {
	var gotCT string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCT = r.Header.Get("Content-Type")
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = buf
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	defer srv.Close()

	var out map[string]bool
	c := New("metalprice")
	require.NoError(t, c.PostJSON(context.Background(), srv.URL,
		map[string]string{"currency": "USD"}, &out))

	assert.Equal(t, "application/json", gotCT)
	assert.JSONEq(t, `{"currency":"USD"}`, string(gotBody))
	assert.True(t, out["accepted"])
}

func TestGetJSONNetworkErrorKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	err := New("quran").GetJSON(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindNetwork, errs.KindOf(err))
}
