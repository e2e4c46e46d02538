package strategy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/common/expr"
	"github.com/flowgrid/flowgrid/common/models"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewDefaultRegistry(expr.MustNew(), nil)
}

func TestRegistry_ValidateNode(t *testing.T) {
	r := testRegistry(t)

	errs := r.ValidateNode(&models.Node{})
	require.Len(t, errs, 3, "id, type and name are all required")

	errs = r.ValidateNode(&models.Node{ID: "n1", Type: "nope", Name: "n"})
	require.Len(t, errs, 1)
	assert.Equal(t, "type", errs[0].Field)

	errs = r.ValidateNode(&models.Node{ID: "n1", Type: "http", Name: "n"})
	require.Len(t, errs, 1)
	assert.Equal(t, "config.url", errs[0].Field)

	errs = r.ValidateNode(&models.Node{
		ID: "n1", Type: "http", Name: "n",
		Config: map[string]interface{}{"url": "http://example.com", "method": "POST"},
	})
	assert.Empty(t, errs)
}

func TestHTTP_SuccessParsesJSON(t *testing.T) {
	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		gotBody.Store(string(buf))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true, "n": 7}`))
	}))
	defer srv.Close()

	s := NewHTTPStrategy(srv.Client())
	res := s.Execute(context.Background(), RunView{Input: map[string]interface{}{"v": 3}}, &models.Node{
		ID: "n1", Type: "http", Name: "call",
		Config: map[string]interface{}{"url": srv.URL},
	})

	require.True(t, res.Success)
	out := res.Output.(map[string]interface{})
	assert.Equal(t, 200, out["statusCode"])
	body := out["body"].(map[string]interface{})
	assert.Equal(t, true, body["ok"])
	assert.JSONEq(t, `{"v":3}`, gotBody.Load().(string))
}

func TestHTTP_MergesInputOverBodyTemplate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewHTTPStrategy(srv.Client())
	node := &models.Node{
		ID: "n1", Type: "http", Name: "call",
		Config: map[string]interface{}{
			"url":  srv.URL,
			"body": map[string]interface{}{"source": "flowgrid", "v": 0},
		},
	}
	body := s.buildBody(node, map[string]interface{}{"v": 9})
	assert.Equal(t, map[string]interface{}{"source": "flowgrid", "v": 9}, body)
}

func TestHTTP_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewHTTPStrategy(srv.Client())
	res := s.Execute(context.Background(), RunView{}, &models.Node{
		ID: "n1", Type: "http", Name: "call",
		Config: map[string]interface{}{"url": srv.URL},
	})

	require.False(t, res.Success)
	assert.True(t, res.Retryable)
}

func TestHTTP_ClientErrorIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewHTTPStrategy(srv.Client())
	res := s.Execute(context.Background(), RunView{}, &models.Node{
		ID: "n1", Type: "http", Name: "call",
		Config: map[string]interface{}{"url": srv.URL},
	})

	require.False(t, res.Success)
	assert.False(t, res.Retryable)
}

func TestHTTP_NetworkErrorIsRetryable(t *testing.T) {
	s := NewHTTPStrategy(&http.Client{Timeout: 100 * time.Millisecond})
	res := s.Execute(context.Background(), RunView{}, &models.Node{
		ID: "n1", Type: "http", Name: "call",
		Config: map[string]interface{}{"url": "http://127.0.0.1:1/unreachable"},
	})

	require.False(t, res.Success)
	assert.True(t, res.Retryable)
}

func TestTransform_MapSingleValue(t *testing.T) {
	s := NewTransformStrategy(expr.MustNew())
	res := s.Execute(context.Background(), RunView{Input: map[string]interface{}{"v": 3}}, &models.Node{
		ID: "n1", Type: "transform", Name: "double",
		Config: map[string]interface{}{"transformationType": "map", "template": "data.v * 2"},
	})

	require.True(t, res.Success)
	assert.EqualValues(t, 6, res.Output)
}

func TestTransform_MapSequence(t *testing.T) {
	s := NewTransformStrategy(expr.MustNew())
	res := s.Execute(context.Background(), RunView{Input: []interface{}{1, 2, 3}}, &models.Node{
		ID: "n1", Type: "transform", Name: "double",
		Config: map[string]interface{}{"transformationType": "map", "template": "item * 10"},
	})

	require.True(t, res.Success)
	out := res.Output.([]interface{})
	require.Len(t, out, 3)
	assert.EqualValues(t, 10, out[0])
	assert.EqualValues(t, 30, out[2])
}

func TestTransform_Filter(t *testing.T) {
	s := NewTransformStrategy(expr.MustNew())
	res := s.Execute(context.Background(), RunView{Input: []interface{}{1, 5, 10, 2}}, &models.Node{
		ID: "n1", Type: "transform", Name: "big",
		Config: map[string]interface{}{"transformationType": "filter", "template": "item >= 5"},
	})

	require.True(t, res.Success)
	assert.Equal(t, []interface{}{5, 10}, res.Output)
}

func TestTransform_Reduce(t *testing.T) {
	s := NewTransformStrategy(expr.MustNew())
	res := s.Execute(context.Background(), RunView{Input: []interface{}{1, 2, 3, 4}}, &models.Node{
		ID: "n1", Type: "transform", Name: "sum",
		Config: map[string]interface{}{"transformationType": "reduce", "template": "acc + item", "initialValue": 0},
	})

	require.True(t, res.Success)
	assert.EqualValues(t, 10, res.Output)
}

func TestTransform_BadTemplateNeverRetryable(t *testing.T) {
	s := NewTransformStrategy(expr.MustNew())
	res := s.Execute(context.Background(), RunView{Input: map[string]interface{}{}}, &models.Node{
		ID: "n1", Type: "transform", Name: "broken",
		Config: map[string]interface{}{"transformationType": "map", "template": "((("},
	})

	require.False(t, res.Success)
	assert.False(t, res.Retryable)
}

func TestDecision_EmitsLabel(t *testing.T) {
	s := NewDecisionStrategy(expr.MustNew())
	res := s.Execute(context.Background(), RunView{Input: map[string]interface{}{"score": 80}}, &models.Node{
		ID: "n1", Type: "decision", Name: "route",
		Config: map[string]interface{}{"expression": `data.score > 50 ? "high" : "low"`},
	})

	require.True(t, res.Success)
	out := res.Output.(map[string]interface{})
	assert.Equal(t, "high", out["label"])
}

func TestDelay_Completes(t *testing.T) {
	s := NewDelayStrategy()
	start := time.Now()
	res := s.Execute(context.Background(), RunView{Input: "x"}, &models.Node{
		ID: "n1", Type: "delay", Name: "wait",
		Config: map[string]interface{}{"duration_ms": float64(30)},
	})

	require.True(t, res.Success)
	assert.Equal(t, "x", res.Output)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestDelay_Cancelable(t *testing.T) {
	s := NewDelayStrategy()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Result, 1)
	go func() {
		done <- s.Execute(ctx, RunView{}, &models.Node{
			ID: "n1", Type: "delay", Name: "wait",
			Config: map[string]interface{}{"duration_ms": float64(60000)},
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		assert.False(t, res.Success)
		assert.False(t, res.Retryable)
	case <-time.After(2 * time.Second):
		t.Fatal("delay did not honor cancellation")
	}
}

func TestSink_Identity(t *testing.T) {
	s := NewSinkStrategy()
	in := map[string]interface{}{"v": 6}
	res := s.Execute(context.Background(), RunView{Input: in}, &models.Node{ID: "n1", Type: "webhook", Name: "out"})
	require.True(t, res.Success)
	assert.Equal(t, in, res.Output)
}

func TestAgent_PostsInputAndParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"answer": "42"}`))
	}))
	defer srv.Close()

	s := NewAgentStrategy(srv.Client())
	res := s.Execute(context.Background(), RunView{RunID: "r1", Input: "question"}, &models.Node{
		ID: "n1", Type: "agent", Name: "ask",
		Config: map[string]interface{}{"endpoint": srv.URL},
	})

	require.True(t, res.Success)
	out := res.Output.(map[string]interface{})
	assert.Equal(t, "42", out["answer"])
}
