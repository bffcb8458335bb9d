package main

import "flag"

// Options holds CLI options for the node.
type Options struct {
	ConfigPath string
	Nick       string
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("pitmesh-node", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.StringVar(&opts.Nick, "nick", "", "Override the configured nick")
	_ = fs.Parse(args)
	return opts
}
