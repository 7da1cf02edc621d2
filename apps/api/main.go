package main

import (
	_ "net/http/pprof" // registers the /debug/pprof handlers on the default mux
	"os"
)

// API_CONTAINER=manual wires the dependencies by hand instead of through the dig container.
func main() {
	if os.Getenv("API_CONTAINER") == "manual" {
		startManual()
		return
	}
	startWithDig()
}
