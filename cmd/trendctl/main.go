package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

const usage = `Usage: trendctl [-server URL] <command> [flags]

Commands:
  run cluster [-rebuild]            cluster unassigned keywords
  run match                         match keywords to products
  run rank [-kind K] [-date D]      generate a ranking period
  top [-kind K] [-date D] [-limit N]
  scores [-limit N]
  runs <run-id>
`

func main() {
	server := flag.String("server", envOr("PICKTREND_SERVER", "http://localhost:8080"), "PickTrend server URL")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := &client{base: *server, http: &http.Client{Timeout: 35 * time.Minute}}
	var err error
	switch args[0] {
	case "run":
		err = c.run(args[1:])
	case "top":
		err = c.top(args[1:])
	case "scores":
		err = c.scores(args[1:])
	case "runs":
		if len(args) < 2 {
			err = fmt.Errorf("runs needs a run id")
			break
		}
		err = c.getRun(args[1])
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

type client struct {
	base string
	http *http.Client
}

func (c *client) run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("run needs a job: cluster, match or rank")
	}
	job := args[0]
	fs := flag.NewFlagSet("run "+job, flag.ExitOnError)
	kind := fs.String("kind", "", "period kind: daily, monthly or yearly")
	date := fs.String("date", "", "period key: 2006-01-02, 2006-01 or 2006")
	rebuild := fs.Bool("rebuild", false, "drop all memberships and cluster from scratch")
	fs.Parse(args[1:])

	body, _ := json.Marshal(map[string]interface{}{"kind": *kind, "date": *date, "rebuild": *rebuild})
	var rep struct {
		RunID    string         `json:"run_id"`
		Job      string         `json:"job"`
		Counters map[string]int `json:"counters"`
		Errors   []string       `json:"errors"`
		PeriodID int64          `json:"period_id"`
	}
	if err := c.do(http.MethodPost, "/api/jobs/"+job, body, &rep); err != nil {
		return err
	}

	fmt.Printf("\033[32m✓\033[0m %s finished (run %s)\n", rep.Job, rep.RunID)
	for name, n := range rep.Counters {
		fmt.Printf("  %-20s %d\n", name, n)
	}
	for _, e := range rep.Errors {
		fmt.Printf("  \033[33m! %s\033[0m\n", e)
	}
	return nil
}

func (c *client) top(args []string) error {
	fs := flag.NewFlagSet("top", flag.ExitOnError)
	kind := fs.String("kind", "daily", "period kind: daily, monthly or yearly")
	date := fs.String("date", "", "period key; empty means the current period")
	limit := fs.Int("limit", 20, "entries to show")
	fs.Parse(args)

	q := url.Values{}
	q.Set("limit", fmt.Sprint(*limit))
	if *date != "" {
		q.Set("date", *date)
	}
	var board struct {
		Period struct {
			Kind string `json:"kind"`
			Key  struct {
				Year  int `json:"year"`
				Month int `json:"month"`
				Day   int `json:"day"`
			} `json:"key"`
		} `json:"period"`
		Entries []struct {
			Rank         int     `json:"rank"`
			PreviousRank *int    `json:"previous_rank"`
			Keyword      string  `json:"keyword"`
			Score        float64 `json:"score"`
			ProductCount int     `json:"product_count"`
		} `json:"entries"`
	}
	if err := c.do(http.MethodGet, "/api/rankings/"+*kind+"?"+q.Encode(), nil, &board); err != nil {
		return err
	}

	k := board.Period.Key
	fmt.Printf("%s ranking %04d", board.Period.Kind, k.Year)
	if k.Month > 0 {
		fmt.Printf("-%02d", k.Month)
	}
	if k.Day > 0 {
		fmt.Printf("-%02d", k.Day)
	}
	fmt.Println()
	if len(board.Entries) == 0 {
		fmt.Println("No entries.")
		return nil
	}
	for _, e := range board.Entries {
		move := "\033[36mNEW\033[0m"
		if e.PreviousRank != nil {
			switch d := *e.PreviousRank - e.Rank; {
			case d > 0:
				move = fmt.Sprintf("\033[32m▲%d\033[0m", d)
			case d < 0:
				move = fmt.Sprintf("\033[31m▼%d\033[0m", -d)
			default:
				move = "-"
			}
		}
		fmt.Printf("%3d. %-30s %6.1f  %s  (%d products)\n", e.Rank, e.Keyword, e.Score, move, e.ProductCount)
	}
	return nil
}

func (c *client) scores(args []string) error {
	fs := flag.NewFlagSet("scores", flag.ExitOnError)
	limit := fs.Int("limit", 20, "clusters to show")
	fs.Parse(args)

	var scores []struct {
		ClusterID   int64   `json:"cluster_id"`
		Name        string  `json:"name"`
		Score       float64 `json:"score"`
		Members     int     `json:"members"`
		SourceCount int     `json:"source_count"`
	}
	if err := c.do(http.MethodGet, fmt.Sprintf("/api/clusters/scores?limit=%d", *limit), nil, &scores); err != nil {
		return err
	}
	if len(scores) == 0 {
		fmt.Println("No active clusters.")
		return nil
	}
	for _, s := range scores {
		fmt.Printf("  #%-6d %-30s %6.2f  %d members, %d sources\n", s.ClusterID, s.Name, s.Score, s.Members, s.SourceCount)
	}
	return nil
}

func (c *client) getRun(id string) error {
	var run map[string]interface{}
	if err := c.do(http.MethodGet, "/api/jobs/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return err
	}
	out, _ := json.MarshalIndent(run, "", "  ")
	fmt.Println(string(out))
	return nil
}

func (c *client) do(method, path string, body []byte, v interface{}) error {
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(data))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
