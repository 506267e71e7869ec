package api

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/client/adapters/audio"
	"github.com/satriahrh/arunika/client/adapters/kv"
	"github.com/satriahrh/arunika/client/domain/repositories"
	"github.com/satriahrh/arunika/client/internal/app"
	"github.com/satriahrh/arunika/client/internal/config"
	"github.com/satriahrh/arunika/client/internal/playback"
)

// wavBytes builds a 16-bit mono WAV of the given length
func wavBytes(sampleRate int, d time.Duration) []byte {
	dataLen := int(d.Seconds() * float64(sampleRate*2))
	buf := make([]byte, 44+dataLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], 1)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	return buf
}

// fakeAssistant is a minimal backend speaking the ask/tts/model/status API
type fakeAssistant struct {
	mu        sync.Mutex
	fail      bool
	uploads   []string
	questions []string
}

func (f *fakeAssistant) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	answer := func(w http.ResponseWriter, question string) {
		json.NewEncoder(w).Encode(map[string]string{
			"question":     question,
			"answer":       "answer to " + question,
			"audio_url":    "/audio/reply.wav",
			"audio_format": "wav",
			"session_id":   "sess-1",
		})
	}

	mux.HandleFunc("/api/tts/", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		fail := f.fail
		f.questions = append(f.questions, req.Text)
		f.mu.Unlock()

		if fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		answer(w, req.Text)
	})
	mux.HandleFunc("/api/ask/", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("Expected file field: %v", err)
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		file.Close()

		f.mu.Lock()
		f.uploads = append(f.uploads, header.Filename)
		f.mu.Unlock()
		answer(w, "spoken question")
	})
	mux.HandleFunc("/api/model/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/audio/reply.wav", func(w http.ResponseWriter, r *http.Request) {
		w.Write(wavBytes(8000, 2*time.Second))
	})
	return mux
}

type grantedMicrophone struct{}

func (grantedMicrophone) RequestPermission(context.Context) (bool, error) { return true, nil }
func (grantedMicrophone) Start(context.Context) (repositories.Capture, error) {
	return capture{}, nil
}

type capture struct{}

func (capture) Stop(context.Context) (string, error) { return "", os.ErrNotExist }

type testEnv struct {
	app       *app.App
	server    *httptest.Server
	assistant *fakeAssistant
	backend   *httptest.Server
	clock     *clock.Mock
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	assistant := &fakeAssistant{}
	backendServer := httptest.NewServer(assistant.handler(t))
	t.Cleanup(backendServer.Close)

	settings := &config.Settings{
		DataDir:          t.TempDir(),
		Platform:         "web",
		AutoPlay:         "none",
		ResolveMode:      "buffered",
		RequestTimeout:   5 * time.Second,
		PreflightTimeout: 5 * time.Second,
		StatusTimeout:    5 * time.Second,
	}

	clk := clock.NewMock()
	a, err := app.New(context.Background(), settings, logger, app.Options{
		Store:      kv.NewMemoryStore(),
		Microphone: grantedMicrophone{},
		Loader:     audio.NewLoader(clk, nil, nil, logger),
	})
	if err != nil {
		t.Fatalf("app.New failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	if err := a.Config.SaveURL(context.Background(), backendServer.URL); err != nil {
		t.Fatalf("SaveURL failed: %v", err)
	}

	e := echo.New()
	InitRoutes(e, a, logger)
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	return &testEnv{app: a, server: server, assistant: assistant, backend: backendServer, clock: clk}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, env.server.URL+path, reader)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return env.send(t, req)
}

func (env *testEnv) send(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func TestHealth(t *testing.T) {
	env := setup(t)

	status, body := env.do(t, http.MethodGet, "/health", nil)
	if status != http.StatusOK || body["status"] != "ok" {
		t.Errorf("Expected ok health, got %d %v", status, body)
	}
}

func TestConversation_TextTurn(t *testing.T) {
	env := setup(t)

	_, body := env.do(t, http.MethodGet, "/api/v1/conversation", nil)
	if body["show_instruction"] != true {
		t.Errorf("Expected instruction on an empty conversation, got %v", body)
	}

	status, body := env.do(t, http.MethodPost, "/api/v1/conversation/text", TextRequest{Text: "hello"})
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d %v", status, body)
	}
	bot := body["bot"].(map[string]any)
	if bot["content"] != "answer to hello" {
		t.Errorf("Unexpected bot message %v", bot)
	}
	if uri, _ := bot["audio_uri"].(string); !strings.HasPrefix(uri, "file://") {
		t.Errorf("Expected downloaded audio, got %q", uri)
	}

	_, body = env.do(t, http.MethodGet, "/api/v1/conversation", nil)
	if messages := body["messages"].([]any); len(messages) != 2 {
		t.Errorf("Expected 2 messages, got %d", len(messages))
	}
	if body["session_id"] != "sess-1" || body["show_instruction"] != false {
		t.Errorf("Unexpected conversation state %v", body)
	}
}

func TestConversation_TextErrors(t *testing.T) {
	env := setup(t)

	status, body := env.do(t, http.MethodPost, "/api/v1/conversation/text", TextRequest{Text: "  "})
	if status != http.StatusBadRequest || body["error"] != "empty_text" {
		t.Errorf("Expected empty_text, got %d %v", status, body)
	}

	env.assistant.mu.Lock()
	env.assistant.fail = true
	env.assistant.mu.Unlock()

	status, body = env.do(t, http.MethodPost, "/api/v1/conversation/text", TextRequest{Text: "hello"})
	if status != http.StatusBadGateway || body["error"] != "turn_failed" {
		t.Errorf("Expected turn_failed, got %d %v", status, body)
	}

	// The typed message stays without a reply
	messages := env.app.Conversation.Messages()
	if len(messages) != 1 || messages[0].Content != "hello" {
		t.Errorf("Expected only the user message, got %+v", messages)
	}
}

func TestConversation_AudioTurn(t *testing.T) {
	env := setup(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, _ := w.CreateFormFile("file", "clip.wav")
	part.Write(wavBytes(8000, time.Second))
	w.Close()

	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/api/v1/conversation/audio", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())

	status, body := env.send(t, req)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d %v", status, body)
	}
	if user := body["user"].(map[string]any); user["content"] != "spoken question" || user["input_type"] != "audio" {
		t.Errorf("Unexpected user message %v", user)
	}
	env.assistant.mu.Lock()
	uploads := append([]string(nil), env.assistant.uploads...)
	env.assistant.mu.Unlock()
	if len(uploads) != 1 || uploads[0] != "recording.wav" {
		t.Errorf("Expected recording.wav upload, got %v", uploads)
	}

	req, _ = http.NewRequest(http.MethodPost, env.server.URL+"/api/v1/conversation/audio", nil)
	if status, _ := env.send(t, req); status != http.StatusBadRequest {
		t.Errorf("Expected 400 without a file, got %d", status)
	}
}

func TestConfig(t *testing.T) {
	env := setup(t)

	status, body := env.do(t, http.MethodGet, "/api/v1/config", nil)
	if status != http.StatusOK || body["backend_url"] != env.backend.URL || body["loaded"] != true {
		t.Errorf("Unexpected config %d %v", status, body)
	}
	if body["platform"] != "web" {
		t.Errorf("Expected web platform, got %v", body["platform"])
	}

	status, body = env.do(t, http.MethodPut, "/api/v1/config/url", URLRequest{URL: "not a url"})
	if status != http.StatusBadRequest || body["error"] != "invalid_url" {
		t.Errorf("Expected invalid_url, got %d %v", status, body)
	}

	status, body = env.do(t, http.MethodPut, "/api/v1/config/model", ModelRequest{Model: "mistral"})
	if status != http.StatusOK || body["model"] != "mistral" {
		t.Errorf("Expected model mistral, got %d %v", status, body)
	}

	status, body = env.do(t, http.MethodPut, "/api/v1/config/model", ModelRequest{Model: " "})
	if status != http.StatusBadRequest || body["error"] != "empty_model" {
		t.Errorf("Expected empty_model, got %d %v", status, body)
	}

	_, body = env.do(t, http.MethodPost, "/api/v1/config/test", URLRequest{})
	if body["success"] != true {
		t.Errorf("Expected a successful connection test, got %v", body)
	}

	_, body = env.do(t, http.MethodPost, "/api/v1/config/model/remote", ModelRequest{Model: "phi3"})
	if body["success"] != true {
		t.Errorf("Expected remote model update, got %v", body)
	}
	if cfg, _ := env.app.Config.Current(); cfg.Model != "phi3" {
		t.Errorf("Expected local model phi3, got %s", cfg.Model)
	}
}

func TestPlayback(t *testing.T) {
	env := setup(t)

	path := filepath.Join(t.TempDir(), "reply.wav")
	if err := os.WriteFile(path, wavBytes(8000, 3*time.Second), 0o600); err != nil {
		t.Fatalf("Failed to write audio: %v", err)
	}

	status, body := env.do(t, http.MethodPost, "/api/v1/playback/toggle", nil)
	if status != http.StatusOK || body["state"] != string(playback.StateUnloaded) {
		t.Errorf("Expected toggle to no-op while unloaded, got %d %v", status, body)
	}

	status, body = env.do(t, http.MethodPost, "/api/v1/playback/source", SourceRequest{URI: "file://" + path})
	if status != http.StatusOK || body["state"] != string(playback.StateLoaded) {
		t.Fatalf("Expected loaded, got %d %v", status, body)
	}
	if body["duration"] != float64(3*time.Second) {
		t.Errorf("Expected 3s duration, got %v", body["duration"])
	}

	_, body = env.do(t, http.MethodPost, "/api/v1/playback/toggle", nil)
	if body["playing"] != true {
		t.Errorf("Expected playing, got %v", body)
	}

	_, body = env.do(t, http.MethodPost, "/api/v1/playback/stop", nil)
	if body["playing"] == true || body["position"] != float64(0) {
		t.Errorf("Expected stopped at 0, got %v", body)
	}

	status, body = env.do(t, http.MethodPost, "/api/v1/playback/source", SourceRequest{URI: "file:///missing.wav"})
	if status != http.StatusInternalServerError {
		t.Errorf("Expected load failure, got %d %v", status, body)
	}
	if got := env.app.Playback.Status(); got.State != playback.StateUnloaded || got.Error == "" {
		t.Errorf("Expected unloaded with error, got %+v", got)
	}
}

func TestRecording(t *testing.T) {
	env := setup(t)

	_, body := env.do(t, http.MethodPost, "/api/v1/recording/start", nil)
	if body["state"] != "recording" || body["permission"] != true {
		t.Errorf("Expected recording, got %v", body)
	}

	// The fake capture fails to finalize
	status, _ := env.do(t, http.MethodPost, "/api/v1/recording/stop", nil)
	if status != http.StatusInternalServerError {
		t.Errorf("Expected failure, got %d", status)
	}
	if env.app.Recording.Status().State != "idle" {
		t.Error("Expected idle after a failed stop")
	}
}

func TestMetrics(t *testing.T) {
	env := setup(t)
	env.do(t, http.MethodPost, "/api/v1/conversation/text", TextRequest{Text: "hello"})

	resp, err := http.Get(env.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	for _, want := range []string{"voiceclient_backend_requests_total", "voiceclient_turns_total"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("Expected %s in metrics output", want)
		}
	}
}

func TestOrigins(t *testing.T) {
	env := setup(t)

	preflight := func(origin string) *http.Response {
		req, _ := http.NewRequest(http.MethodOptions, env.server.URL+"/api/v1/config/url", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPut)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()
		return resp
	}

	t.Run("foreign preflight", func(t *testing.T) {
		resp := preflight("https://evil.example")
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Expected no allowed origin header, got %s", got)
		}
	})

	t.Run("foreign request", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPut, env.server.URL+"/api/v1/config/url",
			strings.NewReader(`{"url":"http://attacker.example"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Origin", "https://evil.example")

		status, body := env.send(t, req)
		if status != http.StatusForbidden || body["error"] != "forbidden_origin" {
			t.Errorf("Expected forbidden_origin, got %d %v", status, body)
		}
		if cfg, _ := env.app.Config.Current(); cfg.BackendURL != env.backend.URL {
			t.Errorf("Expected backend URL unchanged, got %s", cfg.BackendURL)
		}
	})

	t.Run("foreign simple post", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/api/v1/recording/start", nil)
		req.Header.Set("Origin", "https://evil.example")

		status, _ := env.send(t, req)
		if status != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", status)
		}
		if env.app.Recording.Status().State == "recording" {
			t.Error("Expected the microphone to stay off")
		}
	})

	t.Run("loopback page", func(t *testing.T) {
		resp := preflight("http://localhost:3000")
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
			t.Errorf("Expected localhost to be allowed, got %q", got)
		}

		req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/api/v1/config", nil)
		req.Header.Set("Origin", "http://127.0.0.1:3000")
		status, body := env.send(t, req)
		if status != http.StatusOK || body["backend_url"] != env.backend.URL {
			t.Errorf("Expected config for a loopback page, got %d %v", status, body)
		}
	})

	t.Run("configured origin", func(t *testing.T) {
		env.app.Settings.AllowedOrigins = []string{"https://ui.example"}
		defer func() { env.app.Settings.AllowedOrigins = nil }()

		if got := preflight("https://ui.example").Header.Get("Access-Control-Allow-Origin"); got != "https://ui.example" {
			t.Errorf("Expected configured origin to be allowed, got %q", got)
		}
		if got := preflight("http://localhost:3000").Header.Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Expected loopback to need listing once origins are set, got %q", got)
		}
	})
}
