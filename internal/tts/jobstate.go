package tts

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/airelay/gemini-relay/internal/db"
)

// Durable keys of one job scope.
const (
	keyText        = "text"
	keyVoiceID     = "voiceId"
	keyIndex       = "currentSentenceIndex"
	keyChunks      = "audioChunks"
	keyInitialised = "initialised"
	keyLastError   = "lastError"
	keyErrorTime   = "errorTimestamp"
)

// DefaultIdleTimeout clears abandoned job state.
const DefaultIdleTimeout = 5 * time.Minute

// JobState is the durable record of one TTS job. AudioChunks is a sparse
// sequence keyed by sentence index: a string is a finished chunk, nil is an
// explicit failure. CurrentSentenceIndex is the high-water mark of written
// indices, not an acknowledged prefix.
type JobState struct {
	JobID                string
	Text                 string
	VoiceID              string
	Initialised          bool
	CurrentSentenceIndex int
	AudioChunks          []*string
	LastError            string
	ErrorTimestamp       int64
}

// JobStore persists job state in the KV store, one scope per job, with an
// inactivity alarm that purges idle jobs.
type JobStore struct {
	store       *db.Store
	idleTimeout time.Duration
}

func NewJobStore(store *db.Store) *JobStore {
	return &JobStore{store: store, idleTimeout: DefaultIdleTimeout}
}

func jobScope(jobID string) string {
	return "job:" + jobID
}

// touch re-arms the job's inactivity alarm.
func (js *JobStore) touch(jobID string) {
	scope := jobScope(jobID)
	js.store.SetAlarm(scope, js.idleTimeout, func() {
		js.store.DeleteAll(scope)
	})
}

// Initialize is idempotent: a job already initialised with identical text
// and voice is left untouched; anything else resets progress and chunks.
func (js *JobStore) Initialize(jobID, text, voiceID string) error {
	scope := jobScope(jobID)
	defer js.touch(jobID)

	return js.store.WithScope(scope, func() error {
		state, err := js.load(jobID)
		if err == nil && state.Initialised && state.Text == text && state.VoiceID == voiceID {
			return nil
		}
		return js.store.PutAll(scope, map[string]string{
			keyText:        text,
			keyVoiceID:     voiceID,
			keyIndex:       "0",
			keyChunks:      "[]",
			keyInitialised: "true",
			keyLastError:   "",
			keyErrorTime:   "",
		})
	})
}

// GetState loads the job's durable record. An uninitialised job returns a
// sentinel with Initialised false.
func (js *JobStore) GetState(jobID string) (*JobState, error) {
	scope := jobScope(jobID)
	var state *JobState
	err := js.store.WithScope(scope, func() error {
		s, err := js.load(jobID)
		state = s
		return err
	})
	return state, err
}

func (js *JobStore) load(jobID string) (*JobState, error) {
	scope := jobScope(jobID)
	state := &JobState{JobID: jobID}

	initialised, ok, err := js.store.Get(scope, keyInitialised)
	if err != nil {
		return nil, err
	}
	if !ok || initialised != "true" {
		return state, nil
	}
	state.Initialised = true

	if v, ok, err := js.store.Get(scope, keyText); err != nil {
		return nil, err
	} else if ok {
		state.Text = v
	}
	if v, ok, err := js.store.Get(scope, keyVoiceID); err != nil {
		return nil, err
	} else if ok {
		state.VoiceID = v
	}
	if v, ok, err := js.store.Get(scope, keyIndex); err != nil {
		return nil, err
	} else if ok {
		state.CurrentSentenceIndex, _ = strconv.Atoi(v)
	}
	if v, ok, err := js.store.Get(scope, keyChunks); err != nil {
		return nil, err
	} else if ok && v != "" {
		json.Unmarshal([]byte(v), &state.AudioChunks)
	}
	if v, ok, err := js.store.Get(scope, keyLastError); err != nil {
		return nil, err
	} else if ok {
		state.LastError = v
	}
	if v, ok, err := js.store.Get(scope, keyErrorTime); err != nil {
		return nil, err
	} else if ok && v != "" {
		state.ErrorTimestamp, _ = strconv.ParseInt(v, 10, 64)
	}
	return state, nil
}

// UpdateProgress records the outcome of one sentence: the chunk (nil marks
// an explicit failure), the high-water index, and the last error.
func (js *JobStore) UpdateProgress(jobID string, index int, chunk *string, procErr error) error {
	scope := jobScope(jobID)
	defer js.touch(jobID)

	return js.store.WithScope(scope, func() error {
		state, err := js.load(jobID)
		if err != nil {
			return err
		}

		chunks := state.AudioChunks
		for len(chunks) <= index {
			chunks = append(chunks, nil)
		}
		chunks[index] = chunk

		encoded, err := json.Marshal(chunks)
		if err != nil {
			return err
		}

		current := state.CurrentSentenceIndex
		if index > current {
			current = index
		}

		values := map[string]string{
			keyChunks: string(encoded),
			keyIndex:  strconv.Itoa(current),
		}
		if procErr != nil {
			values[keyLastError] = procErr.Error()
			values[keyErrorTime] = strconv.FormatInt(time.Now().UnixMilli(), 10)
		} else {
			values[keyLastError] = ""
			values[keyErrorTime] = ""
		}
		return js.store.PutAll(scope, values)
	})
}

// DeleteAll purges the job's durable storage.
func (js *JobStore) DeleteAll(jobID string) error {
	return js.store.DeleteAll(jobScope(jobID))
}
