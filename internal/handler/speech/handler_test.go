package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/go-chi/chi/v5"

	speechmodel "github.com/zhouzirui/voiceloop/backend/internal/model/speech"
)

type fakeSpeechService struct {
	transcribeSession  string
	transcribeEncoding string
	transcribeLanguage string
	transcribeAudio    []byte
	synthSession       string
	synthVoice         string
	audio              []byte
	err                error
	configured         bool
}

func (f *fakeSpeechService) TranscribeAudio(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.transcribeSession = req.SessionID
	f.transcribeEncoding = req.Encoding
	f.transcribeLanguage = req.Language
	f.transcribeAudio, _ = io.ReadAll(req.AudioData)
	return &speechmodel.ASRResponse{SessionID: req.SessionID, Transcript: "ok"}, nil
}

func (f *fakeSpeechService) SynthesizeSpeech(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.synthSession = req.SessionID
	f.synthVoice = req.Voice
	return &speechmodel.TTSResponse{SessionID: req.SessionID, AudioData: f.audio, Format: "wav"}, nil
}

func (f *fakeSpeechService) Configured() bool { return f.configured }

func multipartBody(t *testing.T, filename, contentType string, audio []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="audio"; filename="`+filename+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("CreatePart err: %v", err)
	}
	if _, err := part.Write(audio); err != nil {
		t.Fatalf("write audio err: %v", err)
	}
	if err := writer.WriteField("language", "zh-CN"); err != nil {
		t.Fatalf("WriteField err: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close err: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestProcessTranscribeOverridesSession(t *testing.T) {
	fakeSvc := &fakeSpeechService{}
	handler := New(fakeSvc, "")

	body, contentType := multipartBody(t, "sample.wav", "", []byte("audio"))
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe/test", body)
	req.Header.Set("Content-Type", contentType)

	rr := httptest.NewRecorder()
	handler.processTranscribe(rr, req, "session-override")

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if fakeSvc.transcribeSession != "session-override" {
		t.Fatalf("expected override session, got %s", fakeSvc.transcribeSession)
	}
	if fakeSvc.transcribeEncoding != speechmodel.EncodingLinear16 {
		t.Fatalf("expected LINEAR16 from .wav, got %s", fakeSvc.transcribeEncoding)
	}
	if fakeSvc.transcribeLanguage != "zh-CN" {
		t.Fatalf("expected form language, got %s", fakeSvc.transcribeLanguage)
	}
}

func TestMultipartPartContentTypeWinsOverName(t *testing.T) {
	fakeSvc := &fakeSpeechService{}
	handler := New(fakeSvc, "")

	body, contentType := multipartBody(t, "clip.bin", "audio/ogg; codecs=opus", []byte("audio"))
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
	req.Header.Set("Content-Type", contentType)

	rr := httptest.NewRecorder()
	handler.processTranscribe(rr, req, "")

	if fakeSvc.transcribeEncoding != speechmodel.EncodingOggOpus {
		t.Fatalf("expected OGG_OPUS, got %s", fakeSvc.transcribeEncoding)
	}
}

func TestRawBodyTranscribeInfersEncoding(t *testing.T) {
	cases := []struct {
		contentType string
		want        string
	}{
		{"audio/wav", speechmodel.EncodingLinear16},
		{"audio/ogg", speechmodel.EncodingOggOpus},
		{"application/octet-stream", speechmodel.EncodingLinear16},
	}

	for _, tc := range cases {
		fakeSvc := &fakeSpeechService{}
		r := chi.NewRouter()
		New(fakeSvc, "en-US").RegisterRoutes(r)

		req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", bytes.NewReader([]byte{1, 2, 3}))
		req.Header.Set("Content-Type", tc.contentType)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("%s: unexpected status %d", tc.contentType, rr.Code)
		}
		if fakeSvc.transcribeEncoding != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.contentType, tc.want, fakeSvc.transcribeEncoding)
		}
		if !bytes.Equal(fakeSvc.transcribeAudio, []byte{1, 2, 3}) {
			t.Fatalf("%s: audio not forwarded", tc.contentType)
		}
		if fakeSvc.transcribeLanguage != "en-US" {
			t.Fatalf("%s: expected default language, got %s", tc.contentType, fakeSvc.transcribeLanguage)
		}

		var resp speechmodel.ASRResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("invalid response: %v", err)
		}
		if resp.Transcript != "ok" {
			t.Fatalf("unexpected transcript %q", resp.Transcript)
		}
	}
}

func TestWebmAudioIsRejected(t *testing.T) {
	fakeSvc := &fakeSpeechService{}
	handler := New(fakeSvc, "")
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", bytes.NewReader([]byte{1, 2, 3}))
	req.Header.Set("Content-Type", "audio/webm;codecs=opus")

	rr := httptest.NewRecorder()
	handler.processTranscribe(rr, req, "")

	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rr.Code)
	}
	if fakeSvc.transcribeAudio != nil {
		t.Fatal("webm audio must not reach the provider")
	}
}

func TestEmptyAudioIsRejected(t *testing.T) {
	handler := New(&fakeSpeechService{}, "")
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", bytes.NewReader(nil))
	req.Header.Set("Content-Type", "audio/webm")

	rr := httptest.NewRecorder()
	handler.processTranscribe(rr, req, "")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestTranscribeFailureIs500(t *testing.T) {
	handler := New(&fakeSpeechService{err: errors.New("provider down")}, "")
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", bytes.NewReader([]byte{1}))

	rr := httptest.NewRecorder()
	handler.processTranscribe(rr, req, "")

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestProcessSynthesizeOverridesSession(t *testing.T) {
	fakeSvc := &fakeSpeechService{audio: []byte("RIFF")}
	handler := New(fakeSvc, "")

	buf, err := json.Marshal(map[string]any{"text": "hello", "voice": "assistant"})
	if err != nil {
		t.Fatalf("Marshal err: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize/test", bytes.NewReader(buf))
	rr := httptest.NewRecorder()
	handler.processSynthesize(rr, req, "session-1")

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if fakeSvc.synthSession != "session-1" {
		t.Fatalf("expected override session, got %s", fakeSvc.synthSession)
	}
	if fakeSvc.synthVoice != "assistant" {
		t.Fatalf("expected voice passthrough, got %s", fakeSvc.synthVoice)
	}
	if rr.Header().Get("Content-Type") != "audio/wav" {
		t.Fatalf("unexpected content type %s", rr.Header().Get("Content-Type"))
	}
	if rr.Body.String() != "RIFF" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestSynthesizeRequiresText(t *testing.T) {
	handler := New(&fakeSpeechService{}, "")
	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewReader([]byte(`{"text":"  "}`)))
	rr := httptest.NewRecorder()
	handler.processSynthesize(rr, req, "")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHealthReportsConfiguration(t *testing.T) {
	for _, configured := range []bool{true, false} {
		r := chi.NewRouter()
		New(&fakeSpeechService{configured: configured}, "").RegisterRoutes(r)

		req := httptest.NewRequest(http.MethodGet, "/speech/health", nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		var payload map[string]string
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("invalid health body: %v", err)
		}
		want := "healthy"
		if !configured {
			want = "unconfigured"
		}
		if payload["status"] != want {
			t.Fatalf("expected %s, got %s", want, payload["status"])
		}
	}
}
