// Command gateway runs the Dynamo Gateway: a policy-enforcing reverse
// proxy in front of Anthropic's Messages API, exposing both an
// OpenAI-compatible chat-completions surface and a native passthrough.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("gateway", version)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
