package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel/attribute"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkai-gateway/config"
	"talkai-gateway/core"
	"talkai-gateway/models"
)

const testServiceSecret = "svc-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type testGateway struct {
	engine   *gin.Engine
	upstream *httptest.Server
	hits     *atomic.Int32
}

func newTestGateway(t *testing.T, upstream http.HandlerFunc) *testGateway {
	t.Helper()

	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		upstream(w, r)
	}))
	t.Cleanup(ts.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := &config.Config{
		UpstreamURL:        ts.URL,
		RequestTimeout:     5 * time.Second,
		IdleTimeout:        5 * time.Second,
		DefaultTemperature: 0.7,
	}
	creds := &core.Credentials{
		Service:     core.NewServiceSecret(testServiceSecret, "second-secret"),
		Upstream:    core.NewKeyStore("sk-upstream"),
		UpstreamKey: "sk-upstream",
	}
	catalog := core.NewModelCatalog([]string{"claude-3-haiku", "gpt-4o-mini"}, time.Now().Unix())

	g := newGateway(cfg, log, creds, catalog)
	t.Cleanup(g.Close)

	return &testGateway{engine: g.engine(), upstream: ts, hits: &hits}
}

func (tg *testGateway) do(method, path, auth, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	tg.engine.ServeHTTP(w, req)
	return w
}

func talkAIAnswer(tokens ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range tokens {
			fmt.Fprintf(w, "data: %s\n\n", tok)
		}
		fmt.Fprint(w, "data: -1\n\n")
	}
}

const chatBody = `{"model":"claude-3-haiku","messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hi"}]}`

func TestAuth_RejectsWithoutCallingUpstream(t *testing.T) {
	tg := newTestGateway(t, talkAIAnswer("never"))

	tests := []struct {
		name    string
		auth    string
		message string
	}{
		{"missing header", "", "Missing Authorization header"},
		{"wrong scheme", "Basic " + testServiceSecret, "Invalid API key"},
		{"wrong token", "Bearer nope", "Invalid API key"},
		{"empty token", "Bearer ", "Invalid API key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, path := range []string{"/v1/chat/completions", "/v1/models"} {
				method := http.MethodPost
				if path == "/v1/models" {
					method = http.MethodGet
				}
				w := tg.do(method, path, tt.auth, chatBody)
				assert.Equal(t, http.StatusUnauthorized, w.Code)

				var resp models.ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, "authentication_error", resp.Error.Type)
				assert.Equal(t, tt.message, resp.Error.Message)
			}
		})
	}
	assert.Equal(t, int32(0), tg.hits.Load())
}

func TestAuth_AcceptsAnyConfiguredSecret(t *testing.T) {
	tg := newTestGateway(t, talkAIAnswer("ok"))

	for _, auth := range []string{"Bearer " + testServiceSecret, "bearer second-secret"} {
		w := tg.do(http.MethodPost, "/v1/chat/completions", auth, chatBody)
		assert.Equal(t, http.StatusOK, w.Code, auth)
	}
}

func TestChatCompletions_EndToEnd(t *testing.T) {
	var upstreamBody map[string]interface{}
	tg := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-upstream", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&upstreamBody))
		talkAIAnswer("Hello", "!")(w, r)
	})

	w := tg.do(http.MethodPost, "/v1/chat/completions", "Bearer "+testServiceSecret, chatBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp models.ChatCompletionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Hello!", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)

	history := upstreamBody["messagesHistory"].([]interface{})
	require.Len(t, history, 1)
	first := history[0].(map[string]interface{})
	assert.Equal(t, "you", first["from"])
	assert.Equal(t, "be brief\n\nhi", first["content"])
	settings := upstreamBody["settings"].(map[string]interface{})
	assert.Equal(t, 0.7, settings["temperature"])
}

func TestChatCompletions_StreamEndToEnd(t *testing.T) {
	tg := newTestGateway(t, talkAIAnswer("a", "b", "c"))

	body := `{"model":"claude-3-haiku","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	w := tg.do(http.MethodPost, "/v1/chat/completions", "Bearer "+testServiceSecret, body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	out := w.Body.String()
	assert.Equal(t, 5, strings.Count(out, "data: "), out)
	assert.Equal(t, 1, strings.Count(out, `"finish_reason":"stop"`))
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}

func TestPublicEndpoints(t *testing.T) {
	tg := newTestGateway(t, talkAIAnswer())

	w := tg.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var health models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "talkai", health.Gateway)
	assert.Equal(t, []string{"claude-3-haiku", "gpt-4o-mini"}, health.Models)

	w = tg.do(http.MethodGet, "/", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/v1/chat/completions")

	w = tg.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "talkai_gateway_")

	assert.Equal(t, int32(0), tg.hits.Load())
}

func TestListModels(t *testing.T) {
	tg := newTestGateway(t, talkAIAnswer())

	w := tg.do(http.MethodGet, "/v1/models", "Bearer "+testServiceSecret, "")
	require.Equal(t, http.StatusOK, w.Code)

	var list models.ModelList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 2)
	assert.Equal(t, "talkai", list.Data[0].OwnedBy)
}

func TestCORSPreflight(t *testing.T) {
	tg := newTestGateway(t, talkAIAnswer())

	w := tg.do(http.MethodOptions, "/v1/chat/completions", "", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, int32(0), tg.hits.Load())
}

func TestSetupLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	cfg := &config.Config{LogLevel: "debug", LogFormat: "json", LogFile: path, LogMaxSizeMB: 1, LogMaxBackups: 1}

	log, closer, err := setupLogger(cfg)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	log.WithField("key", models.MaskAPIKey("sk-secret-value")).Info("hello file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello file"`)
	assert.NotContains(t, string(data), "sk-secret-value")

	_, _, err = setupLogger(&config.Config{LogLevel: "loud", LogFormat: "json"})
	assert.Error(t, err)
}

func TestOTLPOptions(t *testing.T) {
	opts, err := otlpOptions("collector:4318")
	require.NoError(t, err)
	assert.Len(t, opts, 1)

	opts, err = otlpOptions("http://collector:4318/v1/traces")
	require.NoError(t, err)
	assert.Len(t, opts, 3)

	_, err = otlpOptions("ftp://collector")
	assert.Error(t, err)
}

func TestTelemetryResource(t *testing.T) {
	attrs := telemetryResource().Set()

	name, ok := attrs.Value(attribute.Key("service.name"))
	require.True(t, ok)
	assert.Equal(t, serviceName, name.AsString())

	version, ok := attrs.Value(attribute.Key("service.version"))
	require.True(t, ok)
	assert.Equal(t, Version, version.AsString())
}

func TestLogCredentials(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	creds := &core.Credentials{
		Service:     core.NewServiceSecret("a", "b"),
		Upstream:    core.NewKeyStore("sk-upstream-primary-key", "sk-upstream-spare-key"),
		UpstreamKey: "sk-upstream-primary-key",
	}

	logCredentials(log, creds)

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries[0].Data["service_keys"])
	assert.Equal(t, 2, entries[0].Data["upstream_keys"])
	assert.NotContains(t, entries[0].Data["upstream_key"], "sk-upstream-primary-key")
	assert.Equal(t, logrus.WarnLevel, entries[1].Level)
}

func TestRequestMetrics_UnknownModelCollapsed(t *testing.T) {
	tg := newTestGateway(t, talkAIAnswer("ok"))

	other := core.RequestsTotal.WithLabelValues(http.MethodPost, "2xx", core.OtherModelLabel)
	known := core.RequestsTotal.WithLabelValues(http.MethodPost, "2xx", "claude-3-haiku")
	beforeOther, beforeKnown := testutil.ToFloat64(other), testutil.ToFloat64(known)

	for i := 0; i < 3; i++ {
		body := fmt.Sprintf(`{"model":"made-up-%d","messages":[{"role":"user","content":"hi"}]}`, i)
		w := tg.do(http.MethodPost, "/v1/chat/completions", "Bearer "+testServiceSecret, body)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := tg.do(http.MethodPost, "/v1/chat/completions", "Bearer "+testServiceSecret, chatBody)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, beforeOther+3, testutil.ToFloat64(other))
	assert.Equal(t, beforeKnown+1, testutil.ToFloat64(known))
}
