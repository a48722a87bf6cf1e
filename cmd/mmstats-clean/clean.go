// mmstats-clean removes mmstats files whose publisher process is gone.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/schmichael/mmstats/clean"
	"github.com/schmichael/mmstats/internal/env"
)

const usage = `mmstats-clean [file...]

Probe the sys.pid field of each mmstats file and delete the stale ones.
Without arguments, every file matching %s is considered.
`

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), usage, env.DefaultGlob)
		flag.PrintDefaults()
	}
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		matches, err := filepath.Glob(env.DefaultGlob)
		if err != nil {
			log.Fatal(err)
		}
		files = matches
	}

	res, err := clean.Files(files)
	fmt.Printf("Removed %d  -  %d alive\n", res.Removed, res.Alive)
	if err != nil {
		log.Print(err)
		os.Exit(1)
	}
}
