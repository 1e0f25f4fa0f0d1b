package transcriber

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"murmur/audio"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAI is a batch backend for any OpenAI-compatible transcription endpoint
// (OpenAI itself, Groq, local whisper servers). It has no streaming support;
// each chunk is uploaded as a 16-bit WAV and transcribed in isolation.
type OpenAI struct {
	client      *http.Client
	apiURL      string
	apiKey      string
	model       string
	prompt      string
	initialized bool
}

func NewOpenAI() *OpenAI {
	return &OpenAI{
		client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        1,
				MaxIdleConnsPerHost: 1,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
	}
}

func (o *OpenAI) Initialize(opts map[string]any) error {
	apiKey := optString(opts, "api_key", os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return &InitError{Backend: "openai", Err: fmt.Errorf("no API key in config or OPENAI_API_KEY")}
	}
	o.apiKey = apiKey
	o.apiURL = optString(opts, "base_url", defaultOpenAIBaseURL) + "/audio/transcriptions"
	o.model = optString(opts, "model", "whisper-1")
	o.prompt = optString(opts, "initial_prompt", "")
	o.initialized = true
	return nil
}

func (o *OpenAI) IsInitialized() bool { return o.initialized }

// 4096 samples, the whisper-style default the capture engine aligns frames to.
func (o *OpenAI) PreferredStreamingChunkSize() int { return 4096 }

func (o *OpenAI) ProcessStream(ctx context.Context, chunks <-chan *audio.Chunk) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		out <- Result{Err: fmt.Errorf("openai backend does not support streaming")}
	}()
	return out
}

type openAIResponse struct {
	Text string `json:"text"`
}

func (o *OpenAI) TranscribeComplete(samples []float32, sampleRate, channels int, language string) Result {
	if !o.initialized {
		return Result{Err: fmt.Errorf("openai backend not initialized")}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return Result{Err: err}
	}
	if _, err := part.Write(encodeWAV(samples, sampleRate, channels)); err != nil {
		return Result{Err: err}
	}

	writer.WriteField("model", o.model)
	if language != "" && language != "auto" {
		writer.WriteField("language", language)
	}
	if o.prompt != "" {
		writer.WriteField("prompt", o.prompt)
	}
	writer.Close()

	req, err := http.NewRequest("POST", o.apiURL, &body)
	if err != nil {
		return Result{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := o.client.Do(req)
	if err != nil {
		return Result{Err: fmt.Errorf("openai request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Err: err}
	}
	if resp.StatusCode != 200 {
		return Result{Err: fmt.Errorf("openai API error %d: %s", resp.StatusCode, string(respBody))}
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{Err: fmt.Errorf("openai response parse error: %w", err)}
	}
	return Result{Text: parsed.Text}
}

func (o *OpenAI) Cleanup() {
	o.client.CloseIdleConnections()
	o.initialized = false
}

// encodeWAV quantizes float32 samples to 16-bit PCM and wraps them in a
// 44-byte RIFF header.
func encodeWAV(samples []float32, sampleRate, channels int) []byte {
	const headerSize = 44
	dataSize := len(samples) * 2

	buf := make([]byte, headerSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*channels*2))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(channels*2))
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[headerSize+i*2:], uint16(int16(s*32767)))
	}
	return buf
}
