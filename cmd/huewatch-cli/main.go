package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	goahttp "goa.design/goa/v3/http"
	goa "goa.design/goa/v3/pkg"
)

func main() {
	var (
		addrF    = flag.String("url", "http://localhost:8080", "URL to service host")
		verboseF = flag.Bool("verbose", false, "Print request and response details")
		vF       = flag.Bool("v", false, "Print request and response details")
		timeoutF = flag.Int("timeout", 30, "Maximum number of seconds to wait for response")
		tokenF   = flag.String("token", os.Getenv("HUEWATCH_TOKEN"), "Bearer token for protected endpoints")
		outF     = flag.String("o", "snapshot.jpg", "Output file for the snapshot command")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}

	u, err := url.Parse(*addrF)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid URL %#v: %s\n", *addrF, err)
		os.Exit(1)
	}
	debug := *verboseF || *vF

	c := newClient(u, *timeoutF, debug, *tokenF)

	var (
		endpoint goa.Endpoint
		payload  any
	)
	switch cmd := flag.Arg(0); cmd {
	case "status":
		endpoint = c.endpoint("GET", "/api/v1/status", newMap)
	case "detect":
		endpoint = c.endpoint("GET", "/detect-color", newMap)
	case "health":
		endpoint = c.endpoint("GET", "/readyz", newMap)
	case "reset":
		endpoint = c.endpoint("POST", "/api/v1/recovery/reset", newMap)
	case "login":
		if flag.NArg() != 3 {
			fmt.Fprintln(os.Stderr, "usage: huewatch-cli login <username> <password>")
			os.Exit(1)
		}
		endpoint = c.endpoint("POST", "/api/v1/auth/login", newMap)
		payload = map[string]string{"username": flag.Arg(1), "password": flag.Arg(2)}
	case "snapshot":
		endpoint = c.endpoint("GET", "/snapshot", nil)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeoutF)*time.Second)
	defer cancel()

	data, err := endpoint(ctx, payload)

	if debug {
		if d, ok := c.doer.(goahttp.DebugDoer); ok {
			d.Fprint(os.Stderr)
		}
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	if jpeg, ok := data.([]byte); ok {
		if err := os.WriteFile(*outF, jpeg, 0o644); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		fmt.Printf("wrote %d bytes to %s\n", len(jpeg), *outF)
		return
	}

	m, _ := json.MarshalIndent(data, "", "    ")
	fmt.Println(string(m))
}

func newMap() any {
	return &map[string]any{}
}

func usage() {
	commands := []string{
		"status                      camera, stream and telemetry status",
		"detect                      run a color detection",
		"health                      readiness probe",
		"reset                       retry an exhausted camera (needs -token when auth is on)",
		"login <username> <password> obtain a bearer token",
		"snapshot                    save the latest frame to -o",
	}
	fmt.Fprintf(os.Stderr, `%s is a command line client for the huewatch API.
Usage:
    %s [-url URL][-timeout SECONDS][-verbose|-v][-token TOKEN] COMMAND [ARGS]

Commands:
    %s

Example:
    %s detect
    %s -token "$(%s login admin secret | jq -r .token)" reset
`, os.Args[0], os.Args[0], strings.Join(commands, "\n    "), os.Args[0], os.Args[0], os.Args[0])
}
