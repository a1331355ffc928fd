// Command daemonctl is a thin CLI client for talking to a running
// alfred-daemon over its RPC socket: status, shutdown and ping.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"alfred-ai/internal/rpcclient"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "daemonctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		usage()
		return nil
	}

	socket, rest := extractSocketFlag(args)
	cmd := rest[0]
	cmdArgs := rest[1:]

	switch cmd {
	case "-h", "--help", "help":
		usage()
		return nil
	case "status":
		return runStatus(socket)
	case "shutdown":
		return runShutdown(socket, cmdArgs)
	case "ping":
		return runPing(socket)
	default:
		return fmt.Errorf("unknown command %q (try: status, shutdown, ping)", cmd)
	}
}

func usage() {
	fmt.Println(`daemonctl - control a running alfred-daemon

USAGE:
    daemonctl [--socket PATH] <command> [args]

COMMANDS:
    status              Print daemon status as JSON
    shutdown [--hard]   Request shutdown (graceful by default)
    ping                Check the daemon is responsive
    help                Show this help message

FLAGS:
    --socket PATH   Unix socket path (default: $ALFREDD_SOCKET or
                    ~/.alfred-daemon/daemon.sock)`)
}

func extractSocketFlag(args []string) (string, []string) {
	for i, a := range args {
		if a == "--socket" && i+1 < len(args) {
			rest := append(append([]string{}, args[:i]...), args[i+2:]...)
			return args[i+1], rest
		}
	}
	return defaultSocketPath(), args
}

func defaultSocketPath() string {
	if s := os.Getenv("ALFREDD_SOCKET"); s != "" {
		return s
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./daemon.sock"
	}
	return filepath.Join(home, ".alfred-daemon", "daemon.sock")
}

func dial(socket string) (*rpcclient.Client, error) {
	c, err := rpcclient.Dial(socket)
	if err != nil {
		return nil, fmt.Errorf("could not reach daemon at %s (is it running?): %w", socket, err)
	}
	return c, nil
}

func runStatus(socket string) error {
	c, err := dial(socket)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var status json.RawMessage
	if err := c.Call(ctx, "daemon.status", nil, &status); err != nil {
		return err
	}

	pretty, err := json.MarshalIndent(json.RawMessage(status), "", "  ")
	if err != nil {
		fmt.Println(string(status))
		return nil
	}
	fmt.Println(string(pretty))
	return nil
}

func runShutdown(socket string, args []string) error {
	graceful := true
	timeoutMs := 0
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--hard":
			graceful = false
		case "--timeout":
			if i+1 < len(args) {
				ms, err := strconv.Atoi(args[i+1])
				if err != nil {
					return fmt.Errorf("invalid --timeout value %q: %w", args[i+1], err)
				}
				timeoutMs = ms
				i++
			}
		}
	}

	c, err := dial(socket)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	params := map[string]any{"graceful": graceful, "timeoutMs": timeoutMs}
	var result map[string]bool
	if err := c.Call(ctx, "daemon.shutdown", params, &result); err != nil {
		return err
	}
	fmt.Println("shutdown acknowledged")
	return nil
}

func runPing(socket string) error {
	c, err := dial(socket)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var result map[string]bool
	if err := c.Call(ctx, "daemon.ping", nil, &result); err != nil {
		return err
	}
	fmt.Println("pong")
	return nil
}
