package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// status prints the pipeline's read-only projection as JSON and exits with
// 0 when healthy, 1 when degraded, 2 when trading is halted.
func main() {
	_ = godotenv.Load()

	addr := os.Getenv("STATUS_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	if addr[0] == ':' {
		addr = "localhost" + addr
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get("http://" + addr + "/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "status endpoint unreachable: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var projection struct {
		Health string `json:"health"`
	}
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		fmt.Fprintf(os.Stderr, "invalid status payload: %v\n", err)
		os.Exit(1)
	}
	if err := json.Unmarshal(raw, &projection); err != nil {
		fmt.Fprintf(os.Stderr, "invalid status payload: %v\n", err)
		os.Exit(1)
	}

	var pretty map[string]any
	_ = json.Unmarshal(raw, &pretty)
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))

	switch projection.Health {
	case "healthy":
		os.Exit(0)
	case "halted":
		os.Exit(2)
	default:
		os.Exit(1)
	}
}
