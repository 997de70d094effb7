package comfy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeEngine is an in-process engine. Each accepted /prompt hands the most
// recent event connection and the new job id to script.
type fakeEngine struct {
	t      *testing.T
	server *httptest.Server
	conns  chan *websocket.Conn

	mu           sync.Mutex
	prompts      []map[string]any
	clientIDs    []string
	wsClientIDs  []string
	interrupts   int
	clears       int
	nextID       int
	promptStatus int
	promptBody   string
	controlFail  bool
	files        map[string][]byte
	objectInfo   map[string]string

	script func(conn *websocket.Conn, jobID string)
}

func newFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	e := &fakeEngine{
		t:          t,
		conns:      make(chan *websocket.Conn, 4),
		files:      map[string][]byte{},
		objectInfo: map[string]string{},
	}

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sid := r.URL.Query().Get("clientId")
		e.mu.Lock()
		e.wsClientIDs = append(e.wsClientIDs, sid)
		e.mu.Unlock()

		writeJSON(t, conn, "status", map[string]any{
			"status": map[string]any{"exec_info": map[string]any{"queue_remaining": 0}},
			"sid":    sid,
		})
		e.conns <- conn
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		e.mu.Lock()
		status, respBody := e.promptStatus, e.promptBody
		e.prompts = append(e.prompts, body)
		cid, _ := body["client_id"].(string)
		e.clientIDs = append(e.clientIDs, cid)
		e.nextID++
		jobID := fmt.Sprintf("job-%d", e.nextID)
		script := e.script
		e.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(respBody))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"prompt_id": jobID, "number": "1"})

		if script != nil {
			go func() {
				select {
				case conn := <-e.conns:
					script(conn, jobID)
				case <-time.After(5 * time.Second):
					t.Errorf("no event connection for %s", jobID)
				}
			}()
		}
	})
	mux.HandleFunc("POST /interrupt", func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		e.interrupts++
		fail := e.controlFail
		e.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("POST /queue", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Clear bool `json:"clear"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		e.mu.Lock()
		if body.Clear {
			e.clears++
		}
		fail := e.controlFail
		e.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("GET /view", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		e.mu.Lock()
		data, ok := e.files[q.Get("type")+"/"+q.Get("subfolder")+"/"+q.Get("filename")]
		e.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	})
	mux.HandleFunc("GET /object_info/{type}", func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		body, ok := e.objectInfo[r.PathValue("type")]
		e.mu.Unlock()
		if !ok {
			http.Error(w, "unknown node type", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("GET /object_info", func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		defer e.mu.Unlock()
		_, _ = w.Write([]byte("{"))
		first := true
		for _, body := range e.objectInfo {
			var m map[string]json.RawMessage
			require.NoError(t, json.Unmarshal([]byte(body), &m))
			for k, v := range m {
				if !first {
					_, _ = w.Write([]byte(","))
				}
				first = false
				key, _ := json.Marshal(k)
				_, _ = w.Write(key)
				_, _ = w.Write([]byte(":"))
				_, _ = w.Write(v)
			}
		}
		_, _ = w.Write([]byte("}"))
	})
	mux.HandleFunc("GET /system_stats", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"system": {"os": "posix"}}`))
	})

	e.server = httptest.NewServer(mux)
	t.Cleanup(e.server.Close)
	return e
}

func (e *fakeEngine) setScript(fn func(conn *websocket.Conn, jobID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.script = fn
}

func (e *fakeEngine) respondToPrompt(status int, body string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.promptStatus, e.promptBody = status, body
}

func (e *fakeEngine) failControl() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.controlFail = true
}

func (e *fakeEngine) addObjectInfo(nodeType, body string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.objectInfo[nodeType] = body
}

func (e *fakeEngine) addFile(f OutputFile, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files[f.Type+"/"+f.Subfolder+"/"+f.Filename] = data
}

func (e *fakeEngine) counts() (interrupts, clears int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interrupts, e.clears
}

func writeJSON(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	msg, err := json.Marshal(map[string]any{"type": typ, "data": data})
	require.NoError(t, err)
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Logf("write %s: %v", typ, err)
	}
}

func writeBinary(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	frame := append([]byte{0, 0, 0, 1, 0, 0, 0, 2}, payload...)
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Logf("write binary: %v", err)
	}
}
