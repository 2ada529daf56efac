// Command ethosctl is a thin client for ethosd's Unix-socket IPC transport:
// it dials the daemon's socket, sends one length-delimited MessagePack
// request, and prints the response.
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/modernmethod/ethos/internal/ipcapi"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ethosctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return usageError()
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "search", "query":
		return runSearch(rest)
	case "ingest":
		return runIngest(rest)
	case "status":
		return runStatus(rest)
	case "consolidate":
		return runConsolidate(rest)
	default:
		return usageError()
	}
}

func usageError() error {
	fmt.Fprintln(os.Stderr, "usage: ethosctl <search|ingest|status|consolidate> [flags]")
	return fmt.Errorf("no such command")
}

func socketFlag(fs *flag.FlagSet) *string {
	return fs.String("socket", defaultSocketPath(), "path to the ethosd IPC socket")
}

func defaultSocketPath() string {
	if p := os.Getenv("ETHOS_SOCKET"); p != "" {
		return p
	}
	return "/var/run/ethos/ethos.sock"
}

func runSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	limit := fs.Int("n", 0, "maximum number of results")
	spreading := fs.Bool("spreading", true, "enable spreading activation")
	asJSON := fs.Bool("json", false, "print raw JSON instead of a formatted table")
	socket := socketFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("search: query text required")
	}

	resp, err := roundTrip(*socket, ipcapi.Request{
		Action:       "search",
		Query:        fs.Arg(0),
		Limit:        *limit,
		UseSpreading: *spreading,
	})
	if err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("search: %s", resp.Error)
	}
	if *asJSON {
		return printJSON(resp.Data)
	}
	return printSearchResults(resp.Data)
}

func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	source := fs.String("source", "user", "event source: user, assistant, system, or tool")
	session := fs.String("session", "", "session id to tag the event with")
	agent := fs.String("agent", "", "agent id to tag the event with")
	socket := socketFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("ingest: content text required")
	}

	metadata := map[string]any{}
	if *session != "" {
		metadata["session_id"] = *session
	}
	if *agent != "" {
		metadata["agent_id"] = *agent
	}

	resp, err := roundTrip(*socket, ipcapi.Request{
		Action:   "ingest",
		Content:  fs.Arg(0),
		Source:   *source,
		Metadata: metadata,
	})
	if err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("ingest: %s", resp.Error)
	}
	return printJSON(resp.Data)
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	socket := socketFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	resp, err := roundTrip(*socket, ipcapi.Request{Action: "health"})
	if err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("status: %s", resp.Error)
	}
	return printJSON(resp.Data)
}

func runConsolidate(args []string) error {
	fs := flag.NewFlagSet("consolidate", flag.ExitOnError)
	socket := socketFlag(fs)
	reason := fs.String("reason", "manual", "reason recorded for this consolidation run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resp, err := roundTrip(*socket, ipcapi.Request{Action: "consolidate", Reason: *reason})
	if err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("consolidate: %s", resp.Error)
	}
	return printJSON(resp.Data)
}

// roundTrip dials socketPath, writes req as a single length-delimited
// MessagePack frame, and reads back one framed response, mirroring
// internal/ipcapi's wire protocol exactly.
func roundTrip(socketPath string, req ipcapi.Request) (ipcapi.Response, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return ipcapi.Response{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	body, err := msgpack.Marshal(req)
	if err != nil {
		return ipcapi.Response{}, fmt.Errorf("encode request: %w", err)
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return ipcapi.Response{}, fmt.Errorf("write request: %w", err)
	}
	if _, err := conn.Write(body); err != nil {
		return ipcapi.Response{}, fmt.Errorf("write request: %w", err)
	}

	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return ipcapi.Response{}, fmt.Errorf("read response: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	respBody := make([]byte, n)
	if _, err := io.ReadFull(conn, respBody); err != nil {
		return ipcapi.Response{}, fmt.Errorf("read response: %w", err)
	}

	var resp ipcapi.Response
	if err := msgpack.Unmarshal(respBody, &resp); err != nil {
		return ipcapi.Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printSearchResults renders the response's Data as a qmd result table.
// Data travels through msgpack as []any/map[string]any, so fields are
// read defensively rather than type-asserted back to qmd.Result.
func printSearchResults(data any) error {
	results, ok := data.([]any)
	if !ok {
		return printJSON(data)
	}
	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for _, r := range results {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		fmt.Printf("%-10v %6.3f  %-40v\n", m["docid"], m["score"], m["title"])
		if snippet, ok := m["snippet"].(string); ok {
			fmt.Println(snippet)
		}
		fmt.Println()
	}
	return nil
}
