// Command kernelctl is a thin HTTP client for the routekernel admin surface
// exposed by kerneld (internal/httpapi).
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

var version = "dev"

// Exit codes per the CLI surface: 0 success, 1 input error, 2 gates unmet,
// 3 validation failed, 4 store unavailable, >=10 reserved.
const (
	exitOK          = 0
	exitInputError  = 1
	exitGatesUnmet  = 2
	exitValidation  = 3
	exitUnavailable = 4
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitInputError)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("kernelctl %s\n", version)
	case "route":
		doRoute(args)
	case "feedback":
		doFeedback(args)
	case "stats":
		doStats(args)
	case "propose":
		doPropose(args)
	case "apply":
		doApply(args)
	case "rollback":
		doRollback(args)
	case "baselines":
		doBaselines(args)
	case "lineage":
		doLineage(args)
	case "events":
		doEvents()
	case "health", "healthz":
		doHealthz()
	case "help", "--help", "-h":
		usageTo(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(exitInputError)
	}
}

func usage() {
	usageTo(os.Stderr)
}

func usageTo(w io.Writer) {
	_, _ = fmt.Fprintf(w, `kernelctl — CLI for the routekernel admin API

Usage: kernelctl <command> [arguments]

Environment:
  KERNEL_URL    Base URL (default: http://localhost:8090)

Commands:
  route <query> [--session S] [--override TIER]    Route one query
  feedback <id> <success|failure|escalation> [--reason R] [--retry ID]
                                                     Attach an outcome to a decision
  feedback --prefix <P> <success|failure|escalation> [--reason R]
                                                     Attach an outcome by query prefix
  stats [--window N]                                Show aggregated tier stats
  propose                                            List update proposals (kernel's pattern window)
  apply <proposal_id> [--dry-run]                    Apply a proposal
  rollback <proposal_id>                             Roll back an applied proposal
  baselines                                          Show current baselines
  lineage                                            Show baseline change history
  events                                              Stream real-time SSE events
  health                                              Show component health
  version                                             Show version
  help                                                 Show this help

Examples:
  kernelctl route "refactor this function to use generics" --session s1
  kernelctl feedback 3f2a...  success
  kernelctl feedback --prefix "what is" failure --reason capability_limitation
  kernelctl stats --window 24h
  kernelctl propose
  kernelctl apply upd-1234 --dry-run
  kernelctl rollback upd-1234
`)
}

// --- HTTP helpers ---

func baseURL() string {
	if u := os.Getenv("KERNEL_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://localhost:8090"
}

func doRequest(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, baseURL()+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return http.DefaultClient.Do(req)
}

// exitForStatus recovers spec.md §6's exit-code table from the admin
// surface's HTTP status: 400 is always an input error (unknown tier,
// missing id), 422 is always gates-unmet, 409 is a validation failure
// (an already-resolved proposal or a baseline invariant violation —
// distinct from gates never having been satisfied), and 503/5xx means
// the store is unavailable. Anything else not yet enumerated also falls
// through to validation-failed rather than masquerading as input error
// or gates-unmet.
func exitForStatus(code int) int {
	switch {
	case code == http.StatusBadRequest:
		return exitInputError
	case code == http.StatusUnprocessableEntity:
		return exitGatesUnmet
	case code == http.StatusConflict:
		return exitValidation
	case code == http.StatusServiceUnavailable:
		return exitUnavailable
	case code >= 500:
		return exitUnavailable
	default:
		return exitValidation
	}
}

func call(method, path string, bodyJSON string) map[string]any {
	var body io.Reader
	if bodyJSON != "" {
		body = strings.NewReader(bodyJSON)
	}
	resp, err := doRequest(method, path, body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitUnavailable)
	}
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, string(data))
		os.Exit(exitForStatus(resp.StatusCode))
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		var arr []any
		if err2 := json.Unmarshal(data, &arr); err2 == nil {
			return map[string]any{"items": arr}
		}
		fmt.Println(string(data))
		os.Exit(exitOK)
	}
	return result
}

func prettyJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func requireArgs(args []string, min int, usage string) {
	if len(args) < min {
		fmt.Fprintf(os.Stderr, "usage: kernelctl %s\n", usage)
		os.Exit(exitInputError)
	}
}

func flagValue(args []string, name string) (string, bool) {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}

// --- Commands ---

func doRoute(args []string) {
	requireArgs(args, 1, "route <query> [--session S] [--override TIER]")
	query := args[0]
	session, _ := flagValue(args, "--session")
	override, _ := flagValue(args, "--override")

	payload := map[string]any{"query": query}
	if session != "" {
		payload["session_id"] = session
	}
	if override != "" {
		payload["override_tier"] = override
	}
	body, _ := json.Marshal(payload)
	result := call(http.MethodPost, "/v1/route", string(body))
	fmt.Println(prettyJSON(result))
}

func doFeedback(args []string) {
	requireArgs(args, 2, "feedback <id|--prefix P> <success|failure|escalation> [--reason R] [--retry ID]")

	payload := map[string]any{}
	var signal string
	if args[0] == "--prefix" {
		requireArgs(args, 3, "feedback --prefix <P> <success|failure|escalation>")
		payload["query_prefix"] = args[1]
		signal = args[2]
	} else {
		payload["decision_id"] = args[0]
		signal = args[1]
	}
	payload["signal"] = signal
	if reason, ok := flagValue(args, "--reason"); ok {
		payload["escalation_reason"] = reason
	}
	if retry, ok := flagValue(args, "--retry"); ok {
		payload["retry_decision_id"] = retry
	}

	body, _ := json.Marshal(payload)
	result := call(http.MethodPost, "/v1/feedback", string(body))
	fmt.Println(prettyJSON(result))
}

func doStats(args []string) {
	window, _ := flagValue(args, "--window")
	path := "/v1/stats"
	if window != "" {
		path += "?window=" + window
	}
	result := call(http.MethodGet, path, "")
	fmt.Println(prettyJSON(result))
}

func doPropose(args []string) {
	result := call(http.MethodGet, "/v1/proposals", "")
	proposals, _ := result["proposals"].([]any)
	if len(proposals) == 0 {
		fmt.Println("No pending proposals.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTYPE\tTARGET\tCURRENT\tPROPOSED\tCONFIDENCE\tSAMPLE\tSTATUS\tGATE PASSED")
	for _, p := range proposals {
		m, ok := p.(map[string]any)
		if !ok {
			continue
		}
		gate, _ := m["gate"].(map[string]any)
		passed := "no"
		if gate != nil && gate["passed"] == true {
			passed = "yes"
		}
		_, _ = fmt.Fprintf(tw, "%v\t%v\t%v\t%v\t%v\t%v\t%v\t%v\t%s\n",
			m["id"], m["type"], m["target_path"], m["current_value"], m["proposed_value"],
			m["confidence"], m["sample_size"], m["status"], passed)
	}
	_ = tw.Flush()
}

func doApply(args []string) {
	requireArgs(args, 1, "apply <proposal_id> [--dry-run]")
	path := "/v1/proposals/" + args[0] + "/apply"
	if hasFlag(args, "--dry-run") {
		path += "?dry_run=true"
	}
	result := call(http.MethodPost, path, "{}")
	fmt.Println(prettyJSON(result))
}

func doRollback(args []string) {
	requireArgs(args, 1, "rollback <proposal_id>")
	result := call(http.MethodPost, "/v1/proposals/"+args[0]+"/rollback", "{}")
	fmt.Println(prettyJSON(result))
}

func doBaselines(args []string) {
	result := call(http.MethodGet, "/v1/baselines", "")
	fmt.Println(prettyJSON(result))
}

func doLineage(args []string) {
	result := call(http.MethodGet, "/v1/lineage", "")
	entries, _ := result["items"].([]any)
	if len(entries) == 0 {
		fmt.Println("No lineage entries.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "VERSION\tAPPLIED AT\tPROPOSAL\tAUTHOR\tRATIONALE")
	for _, e := range entries {
		m, _ := e.(map[string]any)
		_, _ = fmt.Fprintf(tw, "%v\t%s\t%v\t%v\t%v\n",
			m["version"], fmtTime(m["applied_at"]), m["proposal_id"], m["author"], m["rationale"])
	}
	_ = tw.Flush()
}

func doHealthz() {
	resp, err := doRequest(http.MethodGet, "/healthz", nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	var out map[string]any
	_ = json.Unmarshal(data, &out)
	fmt.Println(prettyJSON(out))
	if resp.StatusCode != http.StatusOK {
		os.Exit(exitUnavailable)
	}
}

func doEvents() {
	resp, err := doRequest(http.MethodGet, "/v1/events", nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	fmt.Println("Streaming events (Ctrl-C to stop)...")
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, line := range strings.Split(string(buf[:n]), "\n") {
				line = strings.TrimSpace(line)
				if strings.HasPrefix(line, "data:") {
					payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
					var evt map[string]any
					if json.Unmarshal([]byte(payload), &evt) == nil {
						ts := time.Now().Format("15:04:05")
						fmt.Printf("[%s] %v  component=%v tier=%v reason=%v\n",
							ts, evt["type"], evt["component"], evt["tier"], evt["reason"])
					}
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				fmt.Println("Event stream closed.")
			}
			break
		}
	}
}

func fmtTime(v any) string {
	if v == nil {
		return "-"
	}
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.Local().Format("2006-01-02 15:04:05")
		}
		return s
	}
	return fmt.Sprintf("%v", v)
}

func init() {
	http.DefaultTransport.(*http.Transport).DisableKeepAlives = true
	http.DefaultClient.Timeout = 30 * time.Second
}
