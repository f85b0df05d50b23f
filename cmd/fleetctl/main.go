// Command fleetctl is a thin HTTP client for the control-plane API (pkg/api),
// giving an operator the §6.4 command surface without embedding any of the
// control plane's own logic.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/louannemur/agent-orchestrator-sub000/cmd/fleetctl/cmd"
)

func main() {
	err := cmd.Execute()
	if err == nil {
		os.Exit(0)
	}

	fmt.Fprintln(os.Stderr, "Error:", err)

	var ce *cmd.ConnError
	if errors.As(err, &ce) {
		os.Exit(2)
	}
	os.Exit(1)
}
