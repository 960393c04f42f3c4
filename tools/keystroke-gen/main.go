// keystroke-gen generates synthetic keystroke recordings in the format read
// by gsed -source and gsectl replay.
//
// Usage:
//
//	go run ./tools/keystroke-gen -output flow.jsonl -profile flow -count 300
//	go run ./tools/keystroke-gen -output stuck.jsonl -profile stuck -seed 7
//	go run ./tools/keystroke-gen -list
package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"gse/internal/keystroke"
)

// TypingProfile defines parameters for simulating a typing behaviour.
type TypingProfile struct {
	Name        string
	Description string

	MedianFlightMs float64 // Median gap between keystrokes
	FlightSigma    float64 // Log-normal shape of the gap distribution

	BurstProbability float64 // Probability of starting a fast burst
	BurstFlightMs    float64 // Gap during bursts

	PauseProbability float64 // Probability of a thinking pause
	PauseMaxMs       float64 // Maximum extra pause duration

	CorrectionProbability float64 // Probability a keystroke starts a correction run
	CorrectionRunMax      int     // Longest correction run
	PostDeletePauseMs     float64 // Gap after a correction run, before typing resumes
}

var profiles = map[string]TypingProfile{
	"flow": {
		Name:                  "Flow",
		Description:           "Fast, steady typing with rare corrections",
		MedianFlightMs:        110,
		FlightSigma:           0.25,
		BurstProbability:      0.15,
		BurstFlightMs:         70,
		PauseProbability:      0.005,
		PauseMaxMs:            1500,
		CorrectionProbability: 0.02,
		CorrectionRunMax:      2,
		PostDeletePauseMs:     150,
	},
	"normal": {
		Name:                  "Normal",
		Description:           "Typical typing with natural variation",
		MedianFlightMs:        180,
		FlightSigma:           0.45,
		BurstProbability:      0.08,
		BurstFlightMs:         100,
		PauseProbability:      0.02,
		PauseMaxMs:            4000,
		CorrectionProbability: 0.05,
		CorrectionRunMax:      3,
		PostDeletePauseMs:     400,
	},
	"incubation": {
		Name:                  "Incubation",
		Description:           "Slower typing broken by thinking pauses",
		MedianFlightMs:        320,
		FlightSigma:           0.6,
		BurstProbability:      0.03,
		BurstFlightMs:         150,
		PauseProbability:      0.08,
		PauseMaxMs:            8000,
		CorrectionProbability: 0.06,
		CorrectionRunMax:      3,
		PostDeletePauseMs:     900,
	},
	"stuck": {
		Name:                  "Stuck",
		Description:           "Long correction runs followed by long pauses",
		MedianFlightMs:        450,
		FlightSigma:           0.7,
		BurstProbability:      0.01,
		BurstFlightMs:         200,
		PauseProbability:      0.1,
		PauseMaxMs:            6000,
		CorrectionProbability: 0.2,
		CorrectionRunMax:      8,
		PostDeletePauseMs:     2500,
	},
}

func main() {
	var (
		outputPath   = flag.String("output", "-", "Output file path, - for stdout")
		eventCount   = flag.Int("count", 200, "Number of keystrokes to generate")
		profileName  = flag.String("profile", "normal", "Typing profile to use")
		seed         = flag.Uint64("seed", 1, "Random seed")
		keyUps       = flag.Bool("keyups", false, "Emit key-up events as well")
		listProfiles = flag.Bool("list", false, "List available profiles")
	)
	flag.Parse()

	if *listProfiles {
		fmt.Println("Available profiles:")
		for _, name := range profileNames() {
			fmt.Printf("  %-12s %s\n", name, profiles[name].Description)
		}
		os.Exit(0)
	}

	profile, ok := profiles[*profileName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown profile: %s\n", *profileName)
		fmt.Fprintf(os.Stderr, "Use -list to see available profiles\n")
		os.Exit(1)
	}

	events := generateEvents(rand.New(rand.NewPCG(*seed, *seed)), profile, *eventCount, *keyUps)

	var out io.Writer = os.Stdout
	if *outputPath != "-" {
		f, err := os.Create(*outputPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}
	if err := keystroke.WriteRecording(out, events); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		os.Exit(1)
	}

	if *outputPath != "-" {
		fmt.Printf("Generated %d keystrokes with profile %s to %s\n", *eventCount, profile.Name, *outputPath)
		printStats(os.Stdout, events)
	}
}

func profileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// generateEvents simulates count keystrokes. Timestamps start at 0 ms.
func generateEvents(rng *rand.Rand, profile TypingProfile, count int, keyUps bool) []keystroke.Event {
	gap := distuv.LogNormal{
		Mu:    math.Log(profile.MedianFlightMs),
		Sigma: profile.FlightSigma,
		Src:   rng,
	}

	events := make([]keystroke.Event, 0, count)
	at := 0.0
	burstRemaining := 0
	correctionRemaining := 0

	for i := 0; i < count; i++ {
		var intervalMs float64
		switch {
		case i == 0:
		case burstRemaining > 0:
			intervalMs = profile.BurstFlightMs * (0.5 + rng.Float64())
			burstRemaining--
		case rng.Float64() < profile.PauseProbability:
			intervalMs = profile.MedianFlightMs + rng.Float64()*profile.PauseMaxMs
		case rng.Float64() < profile.BurstProbability:
			burstRemaining = 3 + rng.IntN(10)
			intervalMs = profile.BurstFlightMs * (0.5 + rng.Float64())
		default:
			intervalMs = gap.Rand()
		}

		code := keystroke.KeyCode('A' + rng.IntN(26))
		switch {
		case correctionRemaining > 0:
			code = keystroke.Backspace
			correctionRemaining--
			// Deleting is quicker than composing.
			intervalMs = math.Min(intervalMs, profile.MedianFlightMs)
		case i > 0 && events[len(events)-1].Code == keystroke.Backspace:
			intervalMs += profile.PostDeletePauseMs * (0.5 + rng.Float64())
		case i > 0 && rng.Float64() < profile.CorrectionProbability:
			code = keystroke.Backspace
			correctionRemaining = rng.IntN(max(profile.CorrectionRunMax, 1))
		case rng.Float64() < 0.18:
			code = keystroke.Space
		}

		at += intervalMs
		events = append(events, keystroke.Event{Code: code, At: math.Round(at*1000) / 1000, Press: true})
		if keyUps {
			at += 30 + rng.Float64()*40
			events = append(events, keystroke.Event{Code: code, At: math.Round(at*1000) / 1000, Press: false})
		}
	}
	return events
}

func printStats(w io.Writer, events []keystroke.Event) {
	var (
		intervals   []float64
		corrections int
		last        float64
		started     bool
	)
	for _, ev := range events {
		if !ev.Press {
			continue
		}
		if ev.Code.IsCorrection() {
			corrections++
		}
		if started {
			intervals = append(intervals, ev.At-last)
		}
		last, started = ev.At, true
	}
	if len(intervals) == 0 {
		return
	}

	sorted := append([]float64(nil), intervals...)
	sort.Float64s(sorted)
	mean, std := stat.MeanStdDev(intervals, nil)

	fmt.Fprintln(w, "\nStatistics:")
	fmt.Fprintf(w, "  Keystrokes:       %d\n", len(intervals)+1)
	fmt.Fprintf(w, "  Time span:        %.1f seconds\n", last/1000)
	fmt.Fprintf(w, "  Flight median:    %.0f ms\n", stat.Quantile(0.5, stat.Empirical, sorted, nil))
	fmt.Fprintf(w, "  Flight mean:      %.0f ms\n", mean)
	fmt.Fprintf(w, "  Flight stddev:    %.0f ms\n", std)
	fmt.Fprintf(w, "  Correction ratio: %.2f\n", float64(corrections)/float64(len(intervals)+1))
}
