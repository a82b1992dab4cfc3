package transcribe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/snarg/memo-engine/internal/audio"
)

func TestWhisperClient_Transcribe(t *testing.T) {
	var gotFields map[string]string
	var gotFileSize int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotFields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			gotFields[k] = v[0]
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
		} else {
			data, _ := io.ReadAll(f)
			gotFileSize = len(data)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":" hello there ","language":"en","duration":2.0}`)
	}))
	defer srv.Close()

	wc := NewWhisperClient(srv.URL, "base.en", "en", audio.Spec{Channels: 1, SampleRate: 16000}, 5*time.Second)
	text, err := wc.Transcribe(context.Background(), make([]float32, 16000), "memo prompt")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != " hello there " {
		t.Errorf("text = %q", text)
	}
	if gotFields["model"] != "base.en" {
		t.Errorf("model = %q", gotFields["model"])
	}
	if gotFields["prompt"] != "memo prompt" {
		t.Errorf("prompt = %q", gotFields["prompt"])
	}
	if gotFields["language"] != "en" {
		t.Errorf("language = %q", gotFields["language"])
	}
	// 44-byte header + 2 bytes per 16-bit sample
	if gotFileSize < 32000 {
		t.Errorf("uploaded %d bytes, want at least 32000", gotFileSize)
	}
}

func TestWhisperClient_OmitsEmptyPrompt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(10 << 20)
		if _, ok := r.MultipartForm.Value["prompt"]; ok {
			t.Error("prompt field sent for empty prompt")
		}
		io.WriteString(w, `{"text":"ok"}`)
	}))
	defer srv.Close()

	wc := NewWhisperClient(srv.URL, "", "", audio.Spec{Channels: 1, SampleRate: 16000}, 5*time.Second)
	if _, err := wc.Transcribe(context.Background(), []float32{0.1}, ""); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
}

func TestWhisperClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	wc := NewWhisperClient(srv.URL, "", "", audio.Spec{Channels: 1, SampleRate: 16000}, 5*time.Second)
	_, err := wc.Transcribe(context.Background(), []float32{0.1}, "")
	if err == nil || !strings.Contains(err.Error(), "status 503") {
		t.Errorf("err = %v, want status 503", err)
	}
}

func TestElevenLabsClient_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("xi-api-key"); got != "secret" {
			t.Errorf("api key = %q", got)
		}
		r.ParseMultipartForm(10 << 20)
		if got := r.FormValue("model_id"); got != "scribe_v1" {
			t.Errorf("model_id = %q", got)
		}
		if got := r.FormValue("keyterms"); got != `[{"text":"groceries"},{"text":"memo"}]` {
			t.Errorf("keyterms = %q", got)
		}
		io.WriteString(w, `{"language_code":"en","text":"remember the groceries"}`)
	}))
	defer srv.Close()

	el := NewElevenLabsClient("secret", "", "groceries", "", audio.Spec{Channels: 1, SampleRate: 16000}, 5*time.Second)
	el.endpoint = srv.URL
	text, err := el.Transcribe(context.Background(), []float32{0.1, 0.2}, " memo ")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "remember the groceries" {
		t.Errorf("text = %q", text)
	}
}

func TestNewBackend(t *testing.T) {
	tests := []struct {
		name    string
		opts    BackendOptions
		wantErr bool
	}{
		{"whisper default", BackendOptions{WhisperURL: "http://x", SampleRate: 16000}, false},
		{"whisper missing url", BackendOptions{Provider: "whisper"}, true},
		{"elevenlabs", BackendOptions{Provider: "elevenlabs", ElevenLabsAPIKey: "k", SampleRate: 16000}, false},
		{"elevenlabs missing key", BackendOptions{Provider: "elevenlabs"}, true},
		{"unknown", BackendOptions{Provider: "vosk"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBackend(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
