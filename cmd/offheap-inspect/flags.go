package main

// flags.go declares the CLI surface of offheap-inspect.
//
// © 2025 ehcache3 authors. MIT License.

import (
	"flag"
	"time"
)

type options struct {
    target           string
    json             bool
    watch            bool
    interval         time.Duration
    heapProfile      string
    goroutineProfile string
    version          bool
}

func parseFlags() *options {
    opts := &options{}
    flag.StringVar(&opts.target, "target", "http://localhost:6060", "base URL of the service exposing the store debug endpoint")
    flag.BoolVar(&opts.json, "json", false, "emit raw JSON instead of pretty text")
    flag.BoolVar(&opts.watch, "watch", false, "refresh periodically until interrupted")
    flag.DurationVar(&opts.interval, "interval", 2*time.Second, "refresh interval in watch mode")
    flag.StringVar(&opts.heapProfile, "heap", "", "download a heap profile to the given path and exit")
    flag.StringVar(&opts.goroutineProfile, "goroutine", "", "download a goroutine profile to the given path and exit")
    flag.BoolVar(&opts.version, "version", false, "print version and exit")
    flag.Parse()
    return opts
}
