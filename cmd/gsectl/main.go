// gsectl is the command line companion of gsed.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"gse/internal/api"
	"gse/internal/cognitive"
	"gse/internal/config"
	"gse/internal/journal"
	"gse/internal/keystroke"
	"gse/internal/metrics"
	"gse/internal/pidfile"
	"gse/internal/pipeline"
)

var configPath = flag.String("config", "", "path to config file")

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "status":
		err = cmdStatus(os.Stdout, loadConfig())
	case "replay":
		err = cmdReplay(os.Stdout, loadConfig(), flag.Args()[1:])
	case "model":
		err = cmdModel(os.Stdout)
	case "journal":
		session := ""
		if flag.NArg() >= 2 {
			session = flag.Arg(1)
		}
		err = cmdJournal(os.Stdout, loadConfig(), session)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `gsectl - Control utility for gsed

Usage: gsectl [options] <command> [args]

Commands:
  status                    Show the running daemon's state
  replay [flags] <file>     Replay a recording offline and print the trajectory
  model                     Print the model parameters and derived quantities
  journal [session]         List journal sessions, or one session's transitions
  help                      Show this help message

Options:
  -config <path>  Path to config file (default: `+config.ConfigPath()+`)`)
}

func loadConfig() *config.Config {
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func cmdStatus(w io.Writer, cfg *config.Config) error {
	fmt.Fprintln(w, "=== gsed Status ===")
	fmt.Fprintln(w)

	pid, err := pidfile.Read(cfg.Daemon.PidFile)
	if err != nil {
		fmt.Fprintln(w, "Daemon: NOT RUNNING")
	} else {
		fmt.Fprintf(w, "Daemon: pid %d\n", pid)
	}

	if !cfg.HTTP.Enabled {
		fmt.Fprintln(w, "HTTP API disabled; no live state available")
		return nil
	}
	state, err := fetchState(context.Background(), "http://"+cfg.HTTP.Listen)
	if err != nil {
		fmt.Fprintf(w, "State: unavailable (%v)\n", err)
		return nil
	}
	printState(w, state)
	return nil
}

func fetchState(ctx context.Context, base string) (*api.StateResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/state", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET /state: %s", resp.Status)
	}

	var state api.StateResponse
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}

func printState(w io.Writer, s *api.StateResponse) {
	fmt.Fprintf(w, "State:      %s\n", s.State)
	for _, st := range cognitive.States {
		fmt.Fprintf(w, "  %-11s %.4f\n", st.String()+":", s.Belief[st])
	}
	fmt.Fprintf(w, "Smoothed:   %.4f\n", s.Smoothed)
	fmt.Fprintf(w, "Streak:     %d\n", s.Streak)
	fmt.Fprintf(w, "Paused:     %v\n", s.Paused)
	fmt.Fprintf(w, "Composing:  %v\n", s.Composing)
	if s.Session != "" {
		fmt.Fprintf(w, "Session:    %s\n", s.Session)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Updates:    %d (skipped: %d paused, %d no data)\n",
		s.Stats.Updates, s.Stats.SkippedPaused, s.Stats.SkippedNoData)
	fmt.Fprintf(w, "Resets:     %d\n", s.Stats.ForcedResets)
	fmt.Fprintf(w, "Degenerate: %d\n", s.Stats.Degenerate)
	fmt.Fprintf(w, "Recoveries: %d\n", s.Stats.Recoveries)
}

// replayLine is one keystroke of `gsectl replay -json`.
type replayLine struct {
	At          float64          `json:"t"`
	Skipped     string           `json:"skipped,omitempty"`
	FlightMs    float64          `json:"flight_ms"`
	RawScore    float64          `json:"raw"`
	Smoothed    float64          `json:"smoothed"`
	Observation int              `json:"obs"`
	Streak      uint32           `json:"streak"`
	Belief      cognitive.Belief `json:"belief"`
	State       cognitive.State  `json:"state"`
	Rule        cognitive.State  `json:"rule"`
}

func cmdReplay(w io.Writer, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print one JSON object per keystroke")
	showMetrics := fs.Bool("metrics", false, "print metrics in Prometheus text format at the end")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("usage: gsectl replay [-json] [-metrics] <file>")
	}

	src, err := keystroke.OpenSource(fs.Arg(0))
	if err != nil {
		return err
	}
	defer src.Close()

	registry := metrics.NewRegistry("gse")
	m := metrics.NewEngineMetrics(registry)
	engine := cognitive.New()
	p := pipeline.New(engine, cfg.FeaturesConfig())

	enc := json.NewEncoder(w)
	if !*asJSON {
		fmt.Fprintf(w, "%10s %8s %6s %6s %3s %6s %6s %6s  %-10s %s\n",
			"t(ms)", "flight", "raw", "ewma", "obs", "flow", "incub", "stuck", "state", "rule")
	}
	var writeErr error
	err = p.Run(context.Background(), src, false, func(step pipeline.Step) {
		res := step.Result
		m.ObserveUpdate(res, step.Elapsed)
		if writeErr != nil {
			return
		}

		b := engine.Belief()
		if *asJSON {
			line := replayLine{
				At:          step.Event.At,
				FlightMs:    step.FlightMs,
				RawScore:    res.RawScore,
				Smoothed:    res.Smoothed,
				Observation: int(res.Observation),
				Streak:      res.Streak,
				Belief:      b,
				State:       b.ArgMax(),
				Rule:        step.Rule,
			}
			if !res.Applied() {
				line.Skipped = res.Skipped.String()
			}
			writeErr = enc.Encode(line)
			return
		}

		if !res.Applied() {
			_, writeErr = fmt.Fprintf(w, "%10.0f %8.0f %-40s  %-10s %s\n",
				step.Event.At, step.FlightMs, "skipped ("+res.Skipped.String()+")", b.ArgMax(), step.Rule)
			return
		}
		marker := ""
		if res.Transitioned() {
			marker = "  <-"
		}
		_, writeErr = fmt.Fprintf(w, "%10.0f %8.0f %6.3f %6.3f %3d %6.3f %6.3f %6.3f  %-10s %s%s\n",
			step.Event.At, step.FlightMs, res.RawScore, res.Smoothed, res.Observation,
			b[cognitive.Flow], b[cognitive.Incubation], b[cognitive.Stuck],
			b.ArgMax(), step.Rule, marker)
	})
	if err != nil {
		return err
	}
	if writeErr != nil {
		return writeErr
	}

	if *showMetrics {
		return registry.WritePrometheus(w)
	}
	if !*asJSON {
		st := engine.Stats()
		fmt.Fprintf(w, "\n%d updates, %d skipped, %d transitions; final state %s %s\n",
			st.Updates, st.SkippedNoData+st.SkippedPaused, m.Transitions.Value(),
			engine.CurrentState(), engine.Belief())
	}
	return nil
}

func cmdModel(w io.Writer) error {
	m := cognitive.DefaultModel()
	if err := m.Validate(); err != nil {
		return err
	}

	fmt.Fprintln(w, "Transition matrix (row: from, column: to)")
	fmt.Fprintf(w, "%-12s", "")
	for _, s := range cognitive.States {
		fmt.Fprintf(w, "%12s", s)
	}
	fmt.Fprintln(w)
	for _, from := range cognitive.States {
		fmt.Fprintf(w, "%-12s", from)
		for _, to := range cognitive.States {
			fmt.Fprintf(w, "%12.3f", m.Transition[from][to])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Emission probabilities (column: observation symbol)")
	fmt.Fprintf(w, "%-12s", "")
	for k := 0; k < cognitive.NumObservations; k++ {
		fmt.Fprintf(w, "%6d", k)
	}
	fmt.Fprintln(w)
	for _, s := range cognitive.States {
		fmt.Fprintf(w, "%-12s", s)
		for k := 0; k < cognitive.NumObservations; k++ {
			fmt.Fprintf(w, "%6.2f", m.Emission[s][k])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w)
	stationary := m.Stationary()
	fmt.Fprintf(w, "%-12s%12s%16s\n", "State", "Stationary", "Dwell (keys)")
	for _, s := range cognitive.States {
		fmt.Fprintf(w, "%-12s%12.4f%16.1f\n", s, stationary[s], m.ExpectedDwell(s))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Initial belief:    %s\n", m.Initial)
	fmt.Fprintf(w, "Flow reset belief: %s\n", m.FlowReset)
	return nil
}

func cmdJournal(w io.Writer, cfg *config.Config, session string) error {
	if _, err := os.Stat(cfg.Journal.Path); err != nil {
		return fmt.Errorf("no journal at %s", cfg.Journal.Path)
	}
	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer j.Close()

	ctx := context.Background()
	sessions, err := j.Sessions(ctx)
	if err != nil {
		return err
	}

	if session == "" {
		if len(sessions) == 0 {
			fmt.Fprintln(w, "No sessions recorded")
			return nil
		}
		fmt.Fprintf(w, "%-36s  %-19s  %-19s  %11s  %s\n", "SESSION", "STARTED", "ENDED", "TRANSITIONS", "SOURCE")
		for _, s := range sessions {
			ended := "running"
			if s.EndedAt != nil {
				ended = s.EndedAt.Format(time.DateTime)
			}
			fmt.Fprintf(w, "%-36s  %-19s  %-19s  %11d  %s\n",
				s.ID, s.StartedAt.Format(time.DateTime), ended, s.Transitions, s.Source)
		}
		return nil
	}

	id, err := matchSession(sessions, session)
	if err != nil {
		return err
	}
	transitions, err := j.Transitions(ctx, id)
	if err != nil {
		return err
	}
	if len(transitions) == 0 {
		fmt.Fprintf(w, "No transitions in session %s\n", id)
		return nil
	}
	fmt.Fprintf(w, "%-23s  %-10s  %-10s  %6s  %6s  %6s  %3s  %6s  %s\n",
		"TIME", "FROM", "TO", "FLOW", "INCUB", "STUCK", "OBS", "EWMA", "RULE")
	for _, t := range transitions {
		fmt.Fprintf(w, "%-23s  %-10s  %-10s  %6.3f  %6.3f  %6.3f  %3d  %6.3f  %s\n",
			t.At.Format("2006-01-02 15:04:05.000"), t.From, t.To,
			t.Belief[cognitive.Flow], t.Belief[cognitive.Incubation], t.Belief[cognitive.Stuck],
			t.Observation, t.Smoothed, t.Rule)
	}
	return nil
}

// matchSession resolves a full session ID or a unique prefix of one.
func matchSession(sessions []journal.Session, arg string) (uuid.UUID, error) {
	if id, err := uuid.Parse(arg); err == nil {
		return id, nil
	}
	var found []uuid.UUID
	for _, s := range sessions {
		if strings.HasPrefix(s.ID.String(), strings.ToLower(arg)) {
			found = append(found, s.ID)
		}
	}
	switch len(found) {
	case 0:
		return uuid.Nil, fmt.Errorf("no session matches %q", arg)
	case 1:
		return found[0], nil
	default:
		return uuid.Nil, fmt.Errorf("session prefix %q is ambiguous (%d matches)", arg, len(found))
	}
}
