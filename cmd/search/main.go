// Package main implements a one-shot search client for the Attendry API.
// It posts a search request, waits for the result, and prints the accepted
// events as a readable report.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Attendry/attendry-sub001/engine/domain"
)

func main() {
	var (
		apiURL  = flag.String("api", envOr("ATTENDRY_API", "http://localhost:8080"), "API server base URL")
		topic   = flag.String("topic", "", "search topic (required)")
		region  = flag.String("region", "DE", "ISO 3166-1 alpha-2 region code")
		from    = flag.String("from", time.Now().Format("2006-01-02"), "window start, YYYY-MM-DD")
		to      = flag.String("to", time.Now().AddDate(0, 1, 0).Format("2006-01-02"), "window end, YYYY-MM-DD")
		locale  = flag.String("locale", "", "locale override, e.g. de")
		asJSON  = flag.Bool("json", false, "print the raw JSON response")
		timeout = flag.Duration("timeout", 2*time.Minute, "request timeout")
	)
	flag.Parse()

	if *topic == "" {
		fmt.Fprintln(os.Stderr, "usage: search -topic <topic> [-region DE] [-from YYYY-MM-DD] [-to YYYY-MM-DD]")
		os.Exit(2)
	}

	body, _ := json.Marshal(map[string]any{
		"topic":     *topic,
		"region":    *region,
		"date_from": *from,
		"date_to":   *to,
		"locale":    *locale,
	})

	client := &http.Client{Timeout: *timeout}
	resp, err := client.Post(*apiURL+"/api/search", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "search: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "search: read response: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "search: server returned %s: %s\n", resp.Status, strings.TrimSpace(string(raw)))
		os.Exit(1)
	}

	if *asJSON {
		os.Stdout.Write(raw)
		fmt.Println()
		return
	}

	var result domain.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		fmt.Fprintf(os.Stderr, "search: decode response: %v\n", err)
		os.Exit(1)
	}
	printReport(os.Stdout, result)
}

func printReport(w io.Writer, r domain.Result) {
	s := r.Summary
	fmt.Fprintf(w, "%d events (discovered %d, prioritized %d, extracted %d)\n",
		s.Accepted, s.Discovered, s.Prioritized, s.Extracted)
	fmt.Fprintf(w, "window %s .. %s\n",
		s.Window.From.Format("2006-01-02"), s.Window.To.Format("2006-01-02"))
	if s.LowConfidence {
		fmt.Fprintln(w, "note: below the solid-hit threshold, treat results as partial coverage")
	}
	if s.Partial {
		fmt.Fprintln(w, "note: time budget hit, some candidates were not processed")
	}
	fmt.Fprintln(w)

	for i, ev := range r.Events {
		fmt.Fprintf(w, "%2d. %s\n", i+1, ev.Title)
		if ev.DateISO != "" {
			fmt.Fprintf(w, "    date:     %s\n", ev.DateISO)
		}
		if ev.Location != "" {
			fmt.Fprintf(w, "    location: %s\n", ev.Location)
		}
		if len(ev.Speakers) > 0 {
			names := make([]string, 0, len(ev.Speakers))
			for _, sp := range ev.Speakers {
				if sp.Role != "" {
					names = append(names, sp.Name+" ("+sp.Role+")")
				} else {
					names = append(names, sp.Name)
				}
			}
			fmt.Fprintf(w, "    speakers: %s\n", strings.Join(names, ", "))
		}
		fmt.Fprintf(w, "    quality:  %.2f", ev.QualityScore)
		if ev.Provenance.Expanded {
			fmt.Fprint(w, "  (expanded window)")
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "    source:   %s\n", ev.SourceURL)
	}
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
