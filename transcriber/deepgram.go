package transcriber

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"murmur/audio"
)

const (
	deepgramStreamURL = "wss://api.deepgram.com/v1/listen"
	deepgramBatchURL  = "https://api.deepgram.com/v1/listen"

	// 200ms of 16kHz mono per streamed chunk.
	deepgramChunkSamples = 3200
)

// Deepgram streams PCM16 over a websocket and yields interim plus final
// hypotheses. It also supports batch transcription through the prerecorded
// endpoint, so non-streaming profiles can share the backend.
type Deepgram struct {
	apiKey      string
	model       string
	client      *http.Client
	initialized bool
}

func NewDeepgram() *Deepgram {
	return &Deepgram{client: &http.Client{Timeout: 60 * time.Second}}
}

func (d *Deepgram) Initialize(opts map[string]any) error {
	apiKey := optString(opts, "api_key", os.Getenv("DEEPGRAM_API_KEY"))
	if apiKey == "" {
		return &InitError{Backend: "deepgram", Err: fmt.Errorf("no API key in config or DEEPGRAM_API_KEY")}
	}
	d.apiKey = apiKey
	d.model = optString(opts, "model", "nova-3")
	d.initialized = true
	return nil
}

func (d *Deepgram) IsInitialized() bool { return d.initialized }

func (d *Deepgram) PreferredStreamingChunkSize() int { return deepgramChunkSamples }

type deepgramStreamResponse struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (d *Deepgram) streamEndpoint(chunk *audio.Chunk) string {
	endpoint, _ := url.Parse(deepgramStreamURL)
	q := endpoint.Query()
	q.Set("model", d.model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", chunk.SampleRate))
	q.Set("channels", fmt.Sprintf("%d", chunk.Channels))
	q.Set("interim_results", "true")
	if chunk.Language != "" && chunk.Language != "auto" {
		q.Set("language", chunk.Language)
	}
	endpoint.RawQuery = q.Encode()
	return endpoint.String()
}

// ProcessStream dials the websocket lazily on the first chunk (the audio
// parameters live on the chunk), then pumps audio until the end-of-audio
// sentinel and drains results until the server confirms the stream closed.
func (d *Deepgram) ProcessStream(ctx context.Context, chunks <-chan *audio.Chunk) <-chan Result {
	out := make(chan Result, 16)
	go func() {
		defer close(out)

		var first *audio.Chunk
		select {
		case first = <-chunks:
		case <-ctx.Done():
			return
		}
		if first == nil {
			return
		}

		header := http.Header{}
		header.Set("Authorization", "Token "+d.apiKey)
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, d.streamEndpoint(first), header)
		if err != nil {
			out <- Result{Err: fmt.Errorf("deepgram dial: %w", err)}
			return
		}
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		defer conn.Close()

		sendDone := make(chan struct{})
		go func() {
			defer close(sendDone)
			chunk := first
			for {
				if chunk == nil {
					conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
					return
				}
				if err := conn.WriteMessage(websocket.BinaryMessage, pcm16Bytes(chunk.Samples)); err != nil {
					return
				}
				select {
				case chunk = <-chunks:
				case <-ctx.Done():
					conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
					return
				}
			}
		}()

		for {
			if ctx.Err() != nil {
				break
			}
			conn.SetReadDeadline(time.Now().Add(30 * time.Second))
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !normalClose(err) && ctx.Err() == nil {
					out <- Result{Err: fmt.Errorf("deepgram read: %w", err)}
				}
				break
			}

			var msg deepgramStreamResponse
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == "Metadata" {
				// final message after CloseStream
				break
			}
			var transcript string
			if len(msg.Channel.Alternatives) > 0 {
				transcript = strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
			}
			if transcript == "" {
				continue
			}
			out <- Result{
				Text:           transcript,
				EndOfUtterance: msg.SpeechFinal || msg.FromFinalize,
			}
		}
		<-sendDone
	}()
	return out
}

type deepgramBatchResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (d *Deepgram) TranscribeComplete(samples []float32, sampleRate, channels int, language string) Result {
	if !d.initialized {
		return Result{Err: fmt.Errorf("deepgram backend not initialized")}
	}

	endpoint, _ := url.Parse(deepgramBatchURL)
	q := endpoint.Query()
	q.Set("model", d.model)
	if language != "" && language != "auto" {
		q.Set("language", language)
	}
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequest("POST", endpoint.String(), bytes.NewReader(encodeWAV(samples, sampleRate, channels)))
	if err != nil {
		return Result{Err: err}
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{Err: fmt.Errorf("deepgram request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Err: err}
	}
	if resp.StatusCode != 200 {
		return Result{Err: fmt.Errorf("deepgram API error %d: %s", resp.StatusCode, string(respBody))}
	}

	var parsed deepgramBatchResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{Err: fmt.Errorf("deepgram response parse error: %w", err)}
	}
	var text string
	if len(parsed.Results.Channels) > 0 && len(parsed.Results.Channels[0].Alternatives) > 0 {
		text = parsed.Results.Channels[0].Alternatives[0].Transcript
	}
	return Result{Text: text}
}

func (d *Deepgram) Cleanup() {
	d.client.CloseIdleConnections()
	d.initialized = false
}

func normalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

func pcm16Bytes(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(s*32767)))
	}
	return buf
}
