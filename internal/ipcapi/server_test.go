package ipcapi_test

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/modernmethod/ethos/internal/ipcapi"
	"github.com/modernmethod/ethos/pkg/consolidation"
	"github.com/modernmethod/ethos/pkg/embedding"
	"github.com/modernmethod/ethos/pkg/embedding/embeddingmock"
	"github.com/modernmethod/ethos/pkg/ethos"
	"github.com/modernmethod/ethos/pkg/ingest"
	"github.com/modernmethod/ethos/pkg/retrieval"
	"github.com/modernmethod/ethos/pkg/store/storemock"
)

func startTestServer(t *testing.T) (string, *storemock.VectorStore, context.CancelFunc) {
	t.Helper()
	vectors := &storemock.VectorStore{}
	graph := &storemock.GraphStore{}
	sessions := &storemock.SessionStore{}
	episodes := &storemock.EpisodeStore{}
	facts := &storemock.FactStore{}
	backend := &embeddingmock.Backend{Result: embedding.Ready([]float32{1, 0, 0})}

	retrievalEngine := retrieval.New(backend, vectors, graph, nil, retrieval.Config{}, nil)
	ingestPipeline := ingest.New(sessions, episodes, vectors, backend, nil, nil)
	consolidationEngine := consolidation.New(sessions, episodes, facts, nil, consolidation.Config{}, nil, nil)

	socketPath := filepath.Join(t.TempDir(), "ethos.sock")
	srv := ipcapi.New(socketPath, ipcapi.Deps{
		Version:       "test",
		Retrieval:     retrievalEngine,
		Ingest:        ingestPipeline,
		Consolidation: consolidationEngine,
		Embedding:     backend,
		Vectors:       vectors,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", socketPath); err == nil {
			conn.Close()
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	return socketPath, vectors, cancel
}

func roundTrip(t *testing.T, socketPath string, req ipcapi.Request) ipcapi.Response {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	body, err := msgpack.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		t.Fatalf("write len: %v", err)
	}
	if _, err := conn.Write(body); err != nil {
		t.Fatalf("write body: %v", err)
	}

	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		t.Fatalf("read len: %v", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	respBody := make([]byte, n)
	if _, err := io.ReadFull(conn, respBody); err != nil {
		t.Fatalf("read body: %v", err)
	}
	var resp ipcapi.Response
	if err := msgpack.Unmarshal(respBody, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return resp
}

func TestIPC_Ping(t *testing.T) {
	t.Parallel()
	socketPath, _, cancel := startTestServer(t)
	defer cancel()

	resp := roundTrip(t, socketPath, ipcapi.Request{Action: "ping"})
	if resp.Status != "ok" {
		t.Fatalf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "test" {
		t.Errorf("version = %q, want test", resp.Version)
	}
}

func TestIPC_UnknownAction(t *testing.T) {
	t.Parallel()
	socketPath, _, cancel := startTestServer(t)
	defer cancel()

	resp := roundTrip(t, socketPath, ipcapi.Request{Action: "bogus"})
	if resp.Status != "error" {
		t.Fatalf("status = %q, want error", resp.Status)
	}
}

func TestIPC_Ingest(t *testing.T) {
	t.Parallel()
	socketPath, _, cancel := startTestServer(t)
	defer cancel()

	resp := roundTrip(t, socketPath, ipcapi.Request{
		Action:  "ingest",
		Content: "remember this over ipc",
		Source:  "user",
	})
	if resp.Status != "ok" {
		t.Fatalf("status = %q, want ok: %v", resp.Status, resp.Error)
	}
}

func TestIPC_Get(t *testing.T) {
	t.Parallel()
	socketPath, vectors, cancel := startTestServer(t)
	defer cancel()

	id, err := vectors.Insert(context.Background(), ethos.MemoryVector{
		Content:    "fetched directly by id",
		Importance: 0.5,
	})
	if err != nil {
		t.Fatalf("seed vector: %v", err)
	}

	resp := roundTrip(t, socketPath, ipcapi.Request{Action: "get", ID: id.String()})
	if resp.Status != "ok" {
		t.Fatalf("status = %q, want ok: %v", resp.Status, resp.Error)
	}
}

func TestIPC_Get_InvalidID(t *testing.T) {
	t.Parallel()
	socketPath, _, cancel := startTestServer(t)
	defer cancel()

	resp := roundTrip(t, socketPath, ipcapi.Request{Action: "get", ID: "not-a-uuid"})
	if resp.Status != "error" {
		t.Fatalf("status = %q, want error", resp.Status)
	}
}
