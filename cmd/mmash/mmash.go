// mmash serves a JSON view of every mmstats file matching a glob.
//
//	GET /stats/            all labels
//	GET /stats/<name>      values grouped by label; ?exact=1 for an exact
//	                       match, ?aggr=sum|avg|min|max|one to reduce each
//	                       group, ?aggr=summary for full summaries
//	GET /files/            matching files
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/schmichael/mmstats/aggregate"
	"github.com/schmichael/mmstats/internal/env"
	"github.com/schmichael/mmstats/reader"
)

var (
	listen = flag.String("listen", "localhost:23891", "[host]:port to listen on")
	glob   = flag.String("glob", env.DefaultGlob, "glob matching the mmstats files to serve")
)

func errHandlerFunc(h func(w http.ResponseWriter, r *http.Request) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			log.Printf("HTTP serving error: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func main() {
	flag.Parse()
	http.Handle("/stats/", errHandlerFunc(handleStats))
	http.Handle("/files/", errHandlerFunc(handleFiles))
	log.Printf("serving %s on http://%s", *glob, *listen)
	log.Fatal(http.ListenAndServe(*listen, nil))
}

// statsGlob returns the effective glob for a request, refusing path
// traversal in client-supplied ones.
func statsGlob(r *http.Request) (string, error) {
	g := r.URL.Query().Get("glob")
	if g == "" {
		return *glob, nil
	}
	if strings.Contains(g, "..") {
		return "", xerrors.New("path traversal not allowed in glob")
	}
	return g, nil
}

type fileStat struct {
	file  string
	label string
	value interface{}
}

// iterStats decodes every file matching g concurrently. Files that cannot
// be read are skipped: their producer may have just exited.
func iterStats(g string) ([]fileStat, error) {
	files, err := filepath.Glob(g)
	if err != nil {
		return nil, err
	}
	var (
		mu  sync.Mutex
		out []fileStat
	)
	var eg errgroup.Group
	for _, fn := range files {
		fn := fn // copy
		eg.Go(func() error {
			r, err := reader.FromMmap(fn)
			if err != nil {
				return nil
			}
			defer r.Close()
			stats, _ := r.ReadAll()
			mu.Lock()
			defer mu.Unlock()
			for _, st := range stats {
				out = append(out, fileStat{file: fn, label: st.Label, value: st.Value})
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func handleStats(w http.ResponseWriter, r *http.Request) error {
	g, err := statsGlob(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil
	}
	all, err := iterStats(g)
	if err != nil {
		return err
	}

	name := strings.TrimPrefix(r.URL.Path, "/stats/")
	if name == "" {
		labels := make(map[string]bool)
		for _, fs := range all {
			labels[fs.label] = true
		}
		index := make([]string, 0, len(labels))
		for l := range labels {
			index = append(index, l)
		}
		sort.Strings(index)
		return writeJSON(w, map[string][]string{"stats": index})
	}

	exact := r.URL.Query().Get("exact") != ""
	groups := make(map[string][]interface{})
	collector := aggregate.New()
	for _, fs := range all {
		if exact && fs.label != name {
			continue
		}
		if !exact && !strings.HasPrefix(fs.label, name) {
			continue
		}
		groups[fs.label] = append(groups[fs.label], fs.value)
		if v, ok := aggregate.Numeric(fs.value); ok {
			collector.Add(fs.label, v)
		}
	}

	switch aggr := r.URL.Query().Get("aggr"); aggr {
	case "":
		return writeJSON(w, groups)
	case "summary":
		return writeJSON(w, summaries(collector))
	case "sum", "avg", "min", "max", "one":
		reduced := make(map[string]float64, len(groups))
		for label, s := range collector.Summaries() {
			switch aggr {
			case "sum":
				reduced[label] = s.Sum
			case "avg":
				reduced[label] = s.Mean
			case "min":
				reduced[label] = s.Min
			case "max":
				reduced[label] = s.Max
			case "one":
				reduced[label] = s.Values[0]
			}
		}
		return writeJSON(w, reduced)
	default:
		http.Error(w, fmt.Sprintf("unknown aggregator %q", aggr), http.StatusBadRequest)
		return nil
	}
}

type summaryJSON struct {
	Count       int                `json:"count"`
	Min         float64            `json:"min"`
	Max         float64            `json:"max"`
	Sum         float64            `json:"sum"`
	Mean        float64            `json:"mean"`
	Median      float64            `json:"median"`
	Percentiles map[string]float64 `json:"percentiles"`
}

func summaries(c *aggregate.Collector) map[string]summaryJSON {
	out := make(map[string]summaryJSON)
	for label, s := range c.Summaries() {
		pct := make(map[string]float64, len(s.Percentiles))
		for p, v := range s.Percentiles {
			pct[fmt.Sprintf("%g", p)] = v
		}
		out[label] = summaryJSON{
			Count:       s.Count,
			Min:         s.Min,
			Max:         s.Max,
			Sum:         s.Sum,
			Mean:        s.Mean,
			Median:      s.Median,
			Percentiles: pct,
		}
	}
	return out
}

func handleFiles(w http.ResponseWriter, r *http.Request) error {
	g, err := statsGlob(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil
	}
	all, err := iterStats(g)
	if err != nil {
		return err
	}
	files := make(map[string]bool)
	for _, fs := range all {
		files[fs.file] = true
	}
	names := make([]string, 0, len(files))
	for fn := range files {
		names = append(names, fn)
	}
	sort.Strings(names)
	return writeJSON(w, map[string][]string{"files": names})
}
