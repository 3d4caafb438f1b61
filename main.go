package main

import (
	_ "net/http/pprof" // registers /debug/pprof on http.DefaultServeMux, served by the health mux
	"runtime"

	"github.com/kychandar/robobridge/cmd"
)

func main() {
	cmd.Execute()
}

func init() {
	// Enable block profiling for performance analysis
	runtime.SetBlockProfileRate(1)
}
