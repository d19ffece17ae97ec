package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"genwatch/internal/infra"
	"genwatch/internal/monitor"
)

type outcome struct {
	jobID     string
	state     monitor.State
	resultURL string
	message   string
}

func main() {
	var (
		baseFlag     string
		identityFlag string
		timeoutFlag  int
		pollFlag     bool
		intervalFlag int
	)

	flag.StringVar(&baseFlag, "base", "", "generation service base URL (defaults to BACKEND_BASE_URL)")
	flag.StringVar(&identityFlag, "identity", "", "identity sent with stream requests (defaults to WATCH_IDENTITY)")
	flag.IntVar(&timeoutFlag, "timeout", 600, "seconds to wait before a job is declared timed out")
	flag.BoolVar(&pollFlag, "poll", false, "poll the status endpoint instead of streaming")
	flag.IntVar(&intervalFlag, "interval", 2, "seconds between polls when -poll is set")
	flag.Parse()

	_ = godotenv.Load()

	base := strings.TrimSpace(baseFlag)
	if base == "" {
		base = strings.TrimSpace(os.Getenv("BACKEND_BASE_URL"))
	}
	identity := strings.TrimSpace(identityFlag)
	if identity == "" {
		identity = strings.TrimSpace(os.Getenv("WATCH_IDENTITY"))
	}
	if base == "" {
		exitWithError(errors.New("either -base or BACKEND_BASE_URL must be provided"))
	}
	if identity == "" {
		exitWithError(errors.New("either -identity or WATCH_IDENTITY must be provided"))
	}
	if timeoutFlag <= 0 {
		exitWithError(errors.New("-timeout must be positive"))
	}

	jobIDs := dedupe(flag.Args())
	if len(jobIDs) == 0 {
		exitWithError(errors.New("at least one job id is required"))
	}

	logger := infra.NewLogger("cli").With().Str("cmd", "genwatch").Logger()

	registry, err := monitor.NewRegistry(monitor.Options{
		Identity:      identity,
		EndpointBase:  base,
		StreamTimeout: time.Duration(timeoutFlag) * time.Second,
		PollInterval:  time.Duration(intervalFlag) * time.Second,
		UsePolling:    pollFlag,
		Logger:        &logger,
	})
	if err != nil {
		exitWithError(fmt.Errorf("failed to build job registry: %w", err))
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = make(map[string]outcome, len(jobIDs))
	)
	record := func(o outcome) {
		mu.Lock()
		if _, seen := outcomes[o.jobID]; !seen {
			outcomes[o.jobID] = o
			wg.Done()
		}
		mu.Unlock()
	}
	registry.SetCallbacks(monitor.Callbacks{
		OnComplete: func(jobID, resultURL string) {
			record(outcome{jobID: jobID, state: monitor.StateCompleted, resultURL: resultURL})
		},
		OnError: func(jobID, message string) {
			record(outcome{jobID: jobID, state: monitor.StateError, message: message})
		},
	})

	wg.Add(len(jobIDs))
	for _, id := range jobIDs {
		registry.StartMonitoring(id)
	}
	wg.Wait()
	registry.StopAll()

	title := cases.Title(language.Und)
	failed := 0
	for _, id := range jobIDs {
		o := outcomes[id]
		label := title.String(string(o.state))
		switch o.state {
		case monitor.StateCompleted:
			if o.resultURL != "" {
				fmt.Printf("%-10s %s %s\n", label, o.jobID, o.resultURL)
			} else {
				fmt.Printf("%-10s %s\n", label, o.jobID)
			}
		default:
			failed++
			fmt.Printf("%-10s %s %s\n", label, o.jobID, o.message)
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// dedupe keeps the first occurrence of each id so repeated arguments do not
// leave the wait group hanging.
func dedupe(args []string) []string {
	seen := make(map[string]struct{}, len(args))
	out := make([]string, 0, len(args))
	for _, raw := range args {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
