package config

import (
	"flag"
	"fmt"
)

const HelpMessage = `
kombi - ride-hail client

Usage:
  kombi -mode rider|driver [-config path]

Flags:
  -mode     client mode, rider or driver (required)
  -config   path to a yaml config file; environment variables win over file values
  -help     show this message
`

func PrintHelp() {
	if HelpMessage != "" {
		fmt.Printf("%s", HelpMessage)
	} else {
		flag.Usage()
	}
}
