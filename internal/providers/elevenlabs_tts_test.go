package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestElevenLabsGenerate(t *testing.T) {
	var body elevenLabsTTSRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text-to-speech/voice-1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "key" {
			t.Error("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte("ID3audio"))
	}))
	defer server.Close()

	client := NewElevenLabsTTSClient(ElevenLabsTTSConfig{APIKey: "key", BaseURL: server.URL, Voice: "voice-1"})
	result, err := client.Generate(context.Background(), &TTSRequest{Text: "Hallo Welt"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if string(result.Audio) != "ID3audio" {
		t.Errorf("unexpected audio %q", result.Audio)
	}
	if body.ModelID != ElevenLabsDefaultModel || body.VoiceSettings.Speed != 1.0 {
		t.Errorf("unexpected request body %+v", body)
	}
}

func TestElevenLabsRequiresVoice(t *testing.T) {
	client := NewElevenLabsTTSClient(ElevenLabsTTSConfig{APIKey: "key"})
	if _, err := client.Generate(context.Background(), &TTSRequest{Text: "x"}); err == nil {
		t.Fatal("expected error without voice")
	}
}

func TestElevenLabsErrorDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":{"status":"invalid_voice","message":"voice not found"}}`))
	}))
	defer server.Close()

	client := NewElevenLabsTTSClient(ElevenLabsTTSConfig{APIKey: "key", BaseURL: server.URL, Voice: "v"})
	_, err := client.Generate(context.Background(), &TTSRequest{Text: "x"})
	if err == nil || err.Error() != "ElevenLabs TTS error (status 400): voice not found" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestElevenLabsListVoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/voices" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"voices":[{"voice_id":"v1","name":"Rachel"},{"voice_id":"v2","name":"Adam"}]}`))
	}))
	defer server.Close()

	var lister VoiceLister = NewElevenLabsTTSClient(ElevenLabsTTSConfig{APIKey: "key", BaseURL: server.URL})
	voices, err := lister.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices() error = %v", err)
	}
	if len(voices) != 2 || voices[0].VoiceID != "v1" || voices[1].Name != "Adam" {
		t.Errorf("ListVoices() = %+v", voices)
	}
}
