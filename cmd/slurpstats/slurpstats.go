// slurpstats dumps every field of the given mmstats files (default: all
// files matching the publication glob).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"github.com/schmichael/mmstats/internal/env"
	"github.com/schmichael/mmstats/reader"
)

const usage = `slurpstats [-flags] [file...]

Dump the current fields of mmstats files. Without arguments, every file
matching %s is read.

Example:
  %% slurpstats /tmp/myapp-4242-4242.mmstats
`

var (
	asJSON = flag.Bool("json", false, "dump as a JSON object keyed by file name")
	out    = flag.String("o", "", "write the JSON dump atomically to this path instead of stdout (implies -json)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), usage, env.DefaultGlob)
		flag.PrintDefaults()
	}
	flag.Parse()
	if err := slurp(flag.Args()); err != nil {
		log.Fatal(err)
	}
}

func slurp(files []string) error {
	if len(files) == 0 {
		matches, err := filepath.Glob(env.DefaultGlob)
		if err != nil {
			return err
		}
		files = matches
	}

	if *asJSON || *out != "" {
		return slurpJSON(files)
	}

	for _, fn := range files {
		stats, err := read(fn)
		if err != nil {
			log.Printf("error reading %s: %v", fn, err)
			continue
		}
		fmt.Printf("==> %s\n", fn)
		labelMax := 0
		for _, st := range stats {
			if len(st.Label) > labelMax {
				labelMax = len(st.Label)
			}
		}
		for _, st := range stats {
			fmt.Printf("  %-*s %v\n", labelMax, st.Label, st.Value)
		}
		fmt.Println()
	}
	return nil
}

func slurpJSON(files []string) error {
	dump := make(map[string]map[string]interface{}, len(files))
	for _, fn := range files {
		stats, err := read(fn)
		if err != nil {
			log.Printf("error reading %s: %v", fn, err)
			continue
		}
		fields := make(map[string]interface{}, len(stats))
		for _, st := range stats {
			fields[st.Label] = st.Value
		}
		dump[fn] = fields
	}
	b, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if *out != "" {
		return renameio.WriteFile(*out, b, 0644)
	}
	_, err = os.Stdout.Write(b)
	return err
}

func read(fn string) ([]reader.Stat, error) {
	r, err := reader.FromMmap(fn)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ReadAll()
}
