package web

import "embed"

// staticFiles holds the status page assets compiled into the binary.
//
//go:embed static/*
var staticFiles embed.FS
