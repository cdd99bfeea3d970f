package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
)

var version = "dev"

func main() {
	addr := flag.String("addr", "http://localhost:8080", "hermesd HTTP API address")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "version":
		fmt.Printf("hermesctl %s\n", version)
	case "status":
		cmdStatus(*addr)
	case "create-tag":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: hermesctl create-tag <name>")
			os.Exit(1)
		}
		cmdCreateTag(*addr, args[1])
	case "destroy-tag":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: hermesctl destroy-tag <name>")
			os.Exit(1)
		}
		cmdDestroyTag(*addr, args[1])
	case "put":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: hermesctl put <tag> <blob> [file]")
			os.Exit(1)
		}
		file := ""
		if len(args) > 3 {
			file = args[3]
		}
		cmdPut(*addr, args[1], args[2], file)
	case "get":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: hermesctl get <tag> <blob> [size]")
			os.Exit(1)
		}
		size := "4096"
		if len(args) > 3 {
			size = args[3]
		}
		cmdGet(*addr, args[1], args[2], size)
	case "destroy":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: hermesctl destroy <tag> <blob>")
			os.Exit(1)
		}
		cmdDestroy(*addr, args[1], args[2])
	case "truncate":
		if len(args) < 4 {
			fmt.Fprintln(os.Stderr, "usage: hermesctl truncate <tag> <blob> <size>")
			os.Exit(1)
		}
		cmdTruncate(*addr, args[1], args[2], args[3])
	case "flush":
		cmdFlush(*addr)
	case "poll-access-log":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: hermesctl poll-access-log <lane> [since]")
			os.Exit(1)
		}
		since := "0"
		if len(args) > 2 {
			since = args[2]
		}
		cmdPollAccessLog(*addr, args[1], since)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `hermesctl - tiered buffering cache management CLI

Usage:
  hermesctl [flags] <command> [args]

Commands:
  status                       Show node status
  create-tag <name>            Create a tag that owns its blobs
  destroy-tag <name>           Destroy a tag and its blobs
  put <tag> <blob> [file]      Write a blob (reads stdin if file omitted)
  get <tag> <blob> [size]      Read up to size bytes (default 4096) to stdout
  destroy <tag> <blob>         Destroy a blob
  truncate <tag> <blob> <size> Truncate a blob
  flush                        Run one flush cycle over every lane now
  poll-access-log <lane> [since]  Poll a lane's access-pattern log
  version                      Show version

Flags:
  -addr string   HTTP API address (default "http://localhost:8080")`)
}

func cmdStatus(addr string) {
	resp, err := http.Get(addr + "/v1/status")
	fatalIfErr(err)
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func cmdCreateTag(addr, tag string) {
	resp, err := http.Post(addr+"/v1/tags/"+url.PathEscape(tag), "application/json", bytes.NewReader([]byte(`{"owner":true}`)))
	fatalIfErr(err)
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func cmdDestroyTag(addr, tag string) {
	req, err := http.NewRequest(http.MethodDelete, addr+"/v1/tags/"+url.PathEscape(tag), nil)
	fatalIfErr(err)
	resp, err := http.DefaultClient.Do(req)
	fatalIfErr(err)
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func cmdPut(addr, tag, blob, file string) {
	var body io.Reader = os.Stdin
	if file != "" {
		f, err := os.Open(file)
		fatalIfErr(err)
		defer f.Close()
		body = f
	}
	req, err := http.NewRequest(http.MethodPut, addr+"/v1/tags/"+url.PathEscape(tag)+"/blobs/"+url.PathEscape(blob), body)
	fatalIfErr(err)
	resp, err := http.DefaultClient.Do(req)
	fatalIfErr(err)
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func cmdGet(addr, tag, blob, size string) {
	resp, err := http.Get(addr + "/v1/tags/" + url.PathEscape(tag) + "/blobs/" + url.PathEscape(blob) + "?size=" + size)
	fatalIfErr(err)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printJSON(resp.Body)
		os.Exit(1)
	}
	io.Copy(os.Stdout, resp.Body)
}

func cmdDestroy(addr, tag, blob string) {
	req, err := http.NewRequest(http.MethodDelete, addr+"/v1/tags/"+url.PathEscape(tag)+"/blobs/"+url.PathEscape(blob), nil)
	fatalIfErr(err)
	resp, err := http.DefaultClient.Do(req)
	fatalIfErr(err)
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func cmdTruncate(addr, tag, blob, size string) {
	resp, err := http.Post(addr+"/v1/tags/"+url.PathEscape(tag)+"/blobs/"+url.PathEscape(blob)+"/truncate?size="+size, "", nil)
	fatalIfErr(err)
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func cmdFlush(addr string) {
	resp, err := http.Post(addr+"/v1/flush", "", nil)
	fatalIfErr(err)
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func cmdPollAccessLog(addr, lane, since string) {
	resp, err := http.Get(addr + "/v1/lanes/" + url.PathEscape(lane) + "/access-log?since=" + since)
	fatalIfErr(err)
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func fatalIfErr(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printJSON(r io.Reader) {
	var v interface{}
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		fmt.Fprintf(os.Stderr, "error decoding response: %v\n", err)
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
