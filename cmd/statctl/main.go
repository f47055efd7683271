package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"

	"github.com/nats-io/nats.go"
)

var (
	baseURL = envOr("STATCTL_URL", "http://localhost:8000")
	natsURL = envOr("STATCTL_NATS_URL", "nats://localhost:4222")
	secret  = os.Getenv("CENTRAL_SECRET")
)

func usage() {
	fmt.Println("statctl commands:")
	fmt.Println("  heartbeat --node ID [--type TYPE] [--ts UNIX]")
	fmt.Println("  nodes")
	fmt.Println("  events")
	fmt.Println("  pull")
	fmt.Println("  ack --batch ID")
	fmt.Println("  watch")
	fmt.Println("  health")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	switch os.Args[1] {
	case "heartbeat":
		heartbeatCmd()
	case "nodes":
		getCmd("/nodes")
	case "events":
		getCmd("/events")
	case "pull":
		getCmd("/archive/pull")
	case "ack":
		ackCmd()
	case "watch":
		watchCmd()
	case "health":
		getCmd("/health")
	default:
		usage()
	}
}

func heartbeatCmd() {
	fs := flag.NewFlagSet("heartbeat", flag.ExitOnError)
	node := fs.String("node", "", "node id")
	nodeType := fs.String("type", "", "node type")
	ts := fs.Int64("ts", 0, "signal timestamp (unix seconds, 0 = server now)")
	fs.Parse(os.Args[2:])
	if *node == "" {
		fmt.Println("node required")
		return
	}
	body := map[string]interface{}{"node": *node}
	if *nodeType != "" {
		body["node_type"] = *nodeType
	}
	if *ts != 0 {
		body["timestamp"] = *ts
	}
	postJSON("/heartbeat", body)
}

func ackCmd() {
	fs := flag.NewFlagSet("ack", flag.ExitOnError)
	batch := fs.String("batch", "", "batch id from a pull")
	fs.Parse(os.Args[2:])
	if *batch == "" {
		fmt.Println("batch required")
		return
	}
	postJSON("/archive/ack", map[string]string{"batch_id": *batch})
}

func watchCmd() {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		fmt.Println("nats error:", err)
		return
	}
	defer nc.Drain()
	sub, err := nc.SubscribeSync("nodes.transitions")
	if err != nil {
		fmt.Println("subscribe error:", err)
		return
	}
	fmt.Println("watching nodes.transitions (ctrl-c to stop)")
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	for {
		select {
		case <-stop:
			return
		default:
		}
		msg, err := sub.NextMsg(nats.DefaultTimeout)
		if err != nil {
			continue
		}
		fmt.Println(string(msg.Data))
	}
}

func getCmd(path string) {
	req, err := http.NewRequest(http.MethodGet, baseURL+path, nil)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	req.Header.Set("X-API-Key", secret)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Println("http error:", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(os.Stdout, resp.Body)
}

func postJSON(path string, body interface{}) {
	bs, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, baseURL+path, bytes.NewBuffer(bs))
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", secret)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Println("http error:", err)
		return
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	fmt.Printf("response: %v\n", out)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
