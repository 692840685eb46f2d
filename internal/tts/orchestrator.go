package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/airelay/gemini-relay/internal/upstream"
)

// Defaults for the fan-out.
const (
	DefaultConcurrency          = 5
	DefaultSentenceTimeout      = 15 * time.Second
	DefaultFirstSentenceTimeout = 20 * time.Second
	DefaultMimeType             = "audio/mpeg"
)

// Request is the client payload accepted by the TTS endpoints.
type Request struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId"`
	APIKey  string `json:"apiKey"`
}

// workerResponse is the backend worker's reply for one sentence.
type workerResponse struct {
	AudioContentBase64 string `json:"audioContentBase64"`
	MimeType           string `json:"mimeType"`
}

// messageEvent is the payload of a successful sentence.
type messageEvent struct {
	AudioChunk string `json:"audioChunk"`
	Index      int    `json:"index"`
	MimeType   string `json:"mimeType"`
	JobID      string `json:"jobId"`
}

// errorEvent is the payload of a failed sentence. AudioContentBase64 is
// always null and kept for wire compatibility.
type errorEvent struct {
	Index              int     `json:"index"`
	Message            string  `json:"message"`
	AudioContentBase64 *string `json:"audioContentBase64"`
	JobID              string  `json:"jobId"`
}

// sseEvent is one frame queued for the single stream writer.
type sseEvent struct {
	name string
	id   int
	data any
}

// Orchestrator drives a long-form TTS job: it splits the text into
// sentences, replays chunks already persisted for the job, fans the
// remaining sentences out across the backend worker pool and emits the
// results as SSE frames keyed by sentence index.
type Orchestrator struct {
	Backends []string
	Counter  *Counter
	Jobs     *JobStore
	Splitter *Splitter

	Client   *http.Client
	Retry    upstream.RetryPolicy
	Breakers map[string]*upstream.Breaker

	Concurrency          int
	SentenceTimeout      time.Duration
	FirstSentenceTimeout time.Duration
	MimeType             string
}

// NewOrchestrator wires an orchestrator with the default fan-out policy:
// five concurrent sentences, three retries from one second doubling.
func NewOrchestrator(backends []string, counter *Counter, jobs *JobStore, splitter *Splitter) *Orchestrator {
	return &Orchestrator{
		Backends: backends,
		Counter:  counter,
		Jobs:     jobs,
		Splitter: splitter,
		Client:   &http.Client{},
		Retry: upstream.RetryPolicy{
			MaxRetries:    3,
			InitialDelay:  time.Second,
			BackoffFactor: 2,
			RetryOn:       upstream.RetryTransient,
		},
		Concurrency:          DefaultConcurrency,
		SentenceTimeout:      DefaultSentenceTimeout,
		FirstSentenceTimeout: DefaultFirstSentenceTimeout,
		MimeType:             DefaultMimeType,
	}
}

// Stream runs the full job pipeline and writes the SSE stream. It returns
// an error only before any frame has been written; once the stream is open
// all failures surface as error events.
func (o *Orchestrator) Stream(w http.ResponseWriter, r *http.Request, req *Request) error {
	if len(o.Backends) == 0 {
		return fmt.Errorf("no TTS backend services configured")
	}

	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		jobID = uuid.NewString()
	}

	if err := o.Jobs.Initialize(jobID, req.Text, req.VoiceID); err != nil {
		log.Printf("⚠️ tts job %s: initialize failed, continuing without durable state: %v", jobID, err)
	}
	state, err := o.Jobs.GetState(jobID)
	if err != nil {
		log.Printf("⚠️ tts job %s: state load failed, assuming fresh job: %v", jobID, err)
		state = &JobState{JobID: jobID}
	}

	text := o.Splitter.PreprocessText(req.Text)
	sentences := o.Splitter.SplitSentences(text)

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	// Replay chunks persisted by a previous run of this job, then schedule
	// only the indices that still lack a chunk.
	replayed := 0
	var pending []int
	for i := range sentences {
		if i < len(state.AudioChunks) && state.AudioChunks[i] != nil {
			o.writeEvent(w, flusher, sseEvent{name: "message", id: i, data: messageEvent{
				AudioChunk: *state.AudioChunks[i],
				Index:      i,
				MimeType:   o.MimeType,
				JobID:      jobID,
			}})
			replayed++
			continue
		}
		pending = append(pending, i)
	}
	log.Printf("📥 tts job %s: %d sentences, %d replayed, %d to synthesize", jobID, len(sentences), replayed, len(pending))

	events := make(chan sseEvent)
	ctx := r.Context()

	go func() {
		defer close(events)
		var g errgroup.Group
		g.SetLimit(o.Concurrency)
		for _, index := range pending {
			index := index
			sentence := sentences[index]
			g.Go(func() error {
				ev := o.processSentence(ctx, jobID, index, sentence, req)
				select {
				case events <- ev:
				case <-ctx.Done():
				}
				return nil
			})
		}
		g.Wait()
	}()

	for ev := range events {
		o.writeEvent(w, flusher, ev)
	}

	fmt.Fprint(w, "event: end\ndata: \n\n")
	if flusher != nil {
		flusher.Flush()
	}
	log.Printf("✅ tts job %s: stream complete", jobID)
	return nil
}

// processSentence synthesizes one sentence, persists the outcome and
// returns the frame to emit. Failures never abort the job.
func (o *Orchestrator) processSentence(ctx context.Context, jobID string, index int, sentence string, req *Request) sseEvent {
	timeout := o.SentenceTimeout
	if index == 0 {
		timeout = o.FirstSentenceTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backend := o.pickBackend(index)
	chunk, mimeType, err := o.synthesize(ctx, backend, sentence, req.VoiceID, req.APIKey)

	var stored *string
	if err == nil {
		stored = &chunk
	}
	if persistErr := o.Jobs.UpdateProgress(jobID, index, stored, err); persistErr != nil {
		log.Printf("⚠️ tts job %s: persist failed for sentence %d: %v", jobID, index, persistErr)
	}

	if err != nil {
		log.Printf("❌ tts job %s: sentence %d failed: %v", jobID, index, err)
		return sseEvent{name: "error", id: index, data: errorEvent{
			Index:   index,
			Message: err.Error(),
			JobID:   jobID,
		}}
	}
	return sseEvent{name: "message", id: index, data: messageEvent{
		AudioChunk: chunk,
		Index:      index,
		MimeType:   mimeType,
		JobID:      jobID,
	}}
}

// pickBackend advances the global router counter and maps it onto the pool.
// A counter failure falls back to the sentence index so synthesis proceeds.
func (o *Orchestrator) pickBackend(index int) string {
	n, err := o.Counter.Increment()
	if err != nil {
		log.Printf("⚠️ router counter unavailable: %v", err)
		n = int64(index)
	}
	return o.Backends[int(n%int64(len(o.Backends)))]
}

// synthesize POSTs one sentence to a backend worker with retry on 5xx, 429
// and transport errors. It returns the base64 audio and its mime type.
func (o *Orchestrator) synthesize(ctx context.Context, backend, text, voiceID, apiKey string) (string, string, error) {
	if b := o.Breakers[backend]; b != nil {
		if err := b.Allow(); err != nil {
			return "", "", err
		}
	}

	payload, err := json.Marshal(map[string]string{"text": text, "voiceId": voiceID})
	if err != nil {
		return "", "", err
	}

	resp, err := o.Retry.Do(ctx, func() (*http.Response, error) {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, backend, bytes.NewReader(payload))
		if reqErr != nil {
			return nil, reqErr
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
		return o.Client.Do(httpReq)
	})
	if err != nil {
		o.recordOutcome(backend, false)
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		o.recordOutcome(backend, false)
		return "", "", fmt.Errorf("HTTP error Status %d", resp.StatusCode)
	}

	var out workerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		o.recordOutcome(backend, false)
		return "", "", fmt.Errorf("invalid worker response: %w", err)
	}
	if _, err := base64.StdEncoding.DecodeString(out.AudioContentBase64); err != nil {
		o.recordOutcome(backend, false)
		return "", "", fmt.Errorf("invalid audio payload: %w", err)
	}
	o.recordOutcome(backend, true)

	mimeType := out.MimeType
	if mimeType == "" {
		mimeType = o.MimeType
	}
	return out.AudioContentBase64, mimeType, nil
}

func (o *Orchestrator) recordOutcome(backend string, success bool) {
	if b := o.Breakers[backend]; b != nil {
		b.Record(success)
	}
}

// SynthesizeOne serves the single-sentence endpoint: no job state, no SSE,
// one worker call through the same retry and breaker path.
func (o *Orchestrator) SynthesizeOne(ctx context.Context, text, voiceID, apiKey string) (string, string, error) {
	if len(o.Backends) == 0 {
		return "", "", fmt.Errorf("no TTS backend services configured")
	}
	ctx, cancel := context.WithTimeout(ctx, o.FirstSentenceTimeout)
	defer cancel()
	return o.synthesize(ctx, o.pickBackend(0), text, voiceID, apiKey)
}

// writeEvent marshals and flushes one SSE frame.
func (o *Orchestrator) writeEvent(w io.Writer, flusher http.Flusher, ev sseEvent) {
	data, err := json.Marshal(ev.data)
	if err != nil {
		log.Printf("⚠️ tts event marshal failed: %v", err)
		return
	}
	fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", ev.name, ev.id, data)
	if flusher != nil {
		flusher.Flush()
	}
}
