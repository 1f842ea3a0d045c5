// Command numbexctl is the CLI surface exposing the control RPC
// verbatim: p2p-start, p2p-stop, updater-start, updater-stop,
// p2p-import, p2p-export, status, clearerrors, shutdown. Exit codes:
// 0 success, 1 operational failure, 2 unexpected exception.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
)

var commands = map[string]string{
	"p2p-start":     "POST",
	"p2p-stop":      "POST",
	"updater-start": "POST",
	"updater-stop":  "POST",
	"p2p-import":    "POST",
	"p2p-export":    "POST",
	"clearerrors":   "POST",
	"shutdown":      "POST",
	"status":        "GET",
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("numbexctl", flag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:9755", "control RPC address")
	// pflag reads "-addr" as a run of shorthand flags; accept the
	// single-dash spelling by rewriting it to "--addr".
	args = append([]string(nil), args...)
	for i, a := range args {
		if a == "-addr" || strings.HasPrefix(a, "-addr=") {
			args[i] = "-" + a
		}
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintln(stderr, "error:", err)
		return 2
	}

	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprintln(stderr, "usage: numbexctl [-addr host:port] <command>")
		fmt.Fprintln(stderr, "commands:", commandNames())
		return 2
	}

	method, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintln(stderr, "unknown command:", rest[0])
		return 2
	}

	body, err := callControl(*addr, method, rest[0])
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 2
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		fmt.Fprintln(stderr, "error: malformed response:", err)
		return 2
	}

	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err == nil {
		fmt.Fprintln(stdout, out.String())
	} else {
		fmt.Fprintln(stdout, string(body))
	}

	if ok, _ := envelope["ok"].(bool); !ok {
		return 1
	}
	return 0
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	return names
}

func callControl(addr, method, command string) ([]byte, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequest(method, "http://"+addr+"/"+command, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
