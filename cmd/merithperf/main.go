// merithperf observes live turns on a running relay and reports per-turn
// latency. Point it at a relay started with mock engines for a synthetic
// benchmark, or at a real one to watch production turns.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type options struct {
	baseURL     string
	guildID     string
	channelID   string
	turns       int
	turnTimeout time.Duration
	verbose     bool
}

type wsEnvelope struct {
	Type    string `json:"type"`
	TurnID  string `json:"turn_id,omitempty"`
	State   string `json:"state,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Code    string `json:"code,omitempty"`
	Text    string `json:"text,omitempty"`
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "merithperf: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "merithperf: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "relay base URL")
	flag.StringVar(&cfg.guildID, "guild-id", "perf", "guild_id used for the observed session")
	flag.StringVar(&cfg.channelID, "channel-id", "perf", "channel_id used for the observed session")
	flag.IntVar(&cfg.turns, "turns", 10, "number of turns to observe")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "timeout waiting for each turn_ended in milliseconds")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print per-turn progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	sessionID, err := createSession(cfg)
	if err != nil {
		return err
	}
	defer endSession(cfg, sessionID)

	wsURL := strings.Replace(cfg.baseURL, "http", "ws", 1) + "/v1/sessions/" + sessionID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	var durations []time.Duration
	turnStart := map[string]time.Time{}
	observed := 0

	for observed < cfg.turns {
		_ = conn.SetReadDeadline(time.Now().Add(cfg.turnTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("after %d/%d turns: %w", observed, cfg.turns, err)
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case "state_changed":
			if env.State == "listening" {
				turnStart[env.TurnID] = time.Now()
			}
		case "turn_ended":
			start, ok := turnStart[env.TurnID]
			if !ok {
				continue
			}
			delete(turnStart, env.TurnID)
			d := time.Since(start)
			observed++
			if env.Outcome == "completed" {
				durations = append(durations, d)
			}
			if cfg.verbose {
				fmt.Printf("turn %d/%d: %-10s %s\n", observed, cfg.turns, env.Outcome, d.Round(time.Millisecond))
			}
		case "error_event":
			if cfg.verbose {
				fmt.Printf("error: %s (%s)\n", env.Code, env.Text)
			}
		}
	}

	leave := fmt.Sprintf(`{"type":"client_control","session_id":%q,"action":"leave"}`, sessionID)
	_ = conn.WriteMessage(websocket.TextMessage, []byte(leave))

	printSummary(durations)
	return printServerSnapshot(cfg)
}

func createSession(cfg options) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"guild_id":   cfg.guildID,
		"channel_id": cfg.channelID,
	})
	res, err := http.Post(cfg.baseURL+"/v1/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		payload, _ := io.ReadAll(res.Body)
		return "", fmt.Errorf("create session: status %d: %s", res.StatusCode, strings.TrimSpace(string(payload)))
	}
	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}
	if created.SessionID == "" {
		return "", fmt.Errorf("create session: empty session_id")
	}
	return created.SessionID, nil
}

func endSession(cfg options, sessionID string) {
	res, err := http.Post(cfg.baseURL+"/v1/sessions/"+sessionID+"/end", "application/json", nil)
	if err == nil {
		res.Body.Close()
	}
}

func printSummary(durations []time.Duration) {
	if len(durations) == 0 {
		fmt.Println("no completed turns observed")
		return
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	fmt.Printf("\ncompleted turns: %d\n", len(sorted))
	fmt.Printf("avg: %s  p50: %s  p95: %s  max: %s\n",
		(total / time.Duration(len(sorted))).Round(time.Millisecond),
		percentile(sorted, 0.50).Round(time.Millisecond),
		percentile(sorted, 0.95).Round(time.Millisecond),
		sorted[len(sorted)-1].Round(time.Millisecond),
	)
}

// percentile picks from a sorted slice using the nearest-rank method.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func printServerSnapshot(cfg options) error {
	res, err := http.Get(cfg.baseURL + "/v1/perf/latency")
	if err != nil {
		return fmt.Errorf("fetch latency snapshot: %w", err)
	}
	defer res.Body.Close()
	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, payload, "", "  "); err != nil {
		fmt.Println(string(payload))
		return nil
	}
	fmt.Printf("\nserver stage window:\n%s\n", pretty.String())
	return nil
}
