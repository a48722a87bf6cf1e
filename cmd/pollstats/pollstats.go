// pollstats is a vmstat-like poller for mmstats files: it prints the
// per-interval delta of the selected fields, summed across all files.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/schmichael/mmstats/aggregate"
	"github.com/schmichael/mmstats/reader"
)

const usage = `pollstats [-flags] <field>[,<field>...] <file>...

Poll mmstats files and print per-interval deltas of the given fields.

Example:
  %% pollstats -d 2 web.requests,web.errors /tmp/*.mmstats
`

var (
	count   = flag.Int("c", 0, "number of polls (0 = forever)")
	delay   = flag.Int("d", 1, "seconds between polls")
	headers = flag.Int("n", 20, "print headers every n lines")
	prefix  = flag.String("p", "", "prefix prepended to every field name")
)

const fieldWidth = 20

var colorize = isatty.IsTerminal(os.Stdout.Fd())

func color(code, s string) string {
	if !colorize {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0;0m"
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(2)
	}

	fields := strings.Split(flag.Arg(0), ",")
	for i, f := range fields {
		fields[i] = *prefix + f
	}
	files := flag.Args()[1:]

	if err := poll(fields, files); err != nil {
		log.Fatal(err)
	}
}

func poll(fields, files []string) error {
	printHeaders(fields)
	last := make(map[string]float64, len(fields))
	linesSinceHeader := 0
	for n := 0; *count == 0 || n < *count; n++ {
		if linesSinceHeader == *headers {
			printHeaders(fields)
			linesSinceHeader = 0
		}
		cur, err := readOnce(fields, files)
		if err != nil {
			return err
		}
		cols := make([]string, len(fields))
		for i, f := range fields {
			cols[i] = color("1;33", fmt.Sprintf("%*.0f", fieldWidth-1, cur[f]-last[f])) + " "
		}
		fmt.Println(strings.Join(cols, "|"))
		last = cur
		linesSinceHeader++
		time.Sleep(time.Duration(*delay) * time.Second)
	}
	return nil
}

// readOnce sums the current value of every selected field across all
// files.
func readOnce(fields, files []string) (map[string]float64, error) {
	want := make(map[string]bool, len(fields))
	for _, f := range fields {
		want[f] = true
	}
	vals := make(map[string]float64, len(fields))
	for _, fn := range files {
		r, err := reader.FromMmap(fn)
		if err != nil {
			return nil, err
		}
		for {
			st, err := r.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				r.Close()
				return nil, err
			}
			if !want[st.Label] {
				continue
			}
			if v, ok := aggregate.Numeric(st.Value); ok {
				vals[st.Label] += v
			}
		}
		r.Close()
	}
	return vals, nil
}

func printHeaders(fields []string) {
	cols := make([]string, len(fields))
	for i, f := range fields {
		f = strings.TrimPrefix(f, *prefix)
		if len(f) > fieldWidth {
			f = f[:fieldWidth]
		}
		pad := fieldWidth - len(f)
		centered := strings.Repeat(" ", pad/2) + f + strings.Repeat(" ", pad-pad/2)
		cols[i] = color("1", centered)
	}
	fmt.Println(strings.Join(cols, "|"))
}
