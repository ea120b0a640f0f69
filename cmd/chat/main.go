package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "MESH server URL")
	user := flag.String("user", "cli-user", "User name for chat")
	flag.Parse()

	fmt.Println("MESH CLI Chat")
	fmt.Printf("Server: %s | User: %s\n", *server, *user)
	fmt.Println("Type 'exit' or 'quit' to leave. Slash commands run on the server, /help lists them.")
	fmt.Println("Local commands: /health, /online")
	fmt.Println("---")

	fetchHealth(*server)
	fetchAgents(*server)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}
		if input == "/health" {
			fetchHealth(*server)
			continue
		}
		if input == "/online" {
			fetchAgents(*server)
			continue
		}

		sendMessage(*server, *user, input)
	}
}

func fetchAgents(server string) {
	resp, err := http.Get(server + "/api/agents/available")
	if err != nil {
		printError("Failed to fetch agents: %v", err)
		return
	}
	defer resp.Body.Close()

	var out struct {
		Agents []struct {
			Name         string   `json:"name"`
			Version      string   `json:"version"`
			Capabilities []string `json:"capabilities"`
		} `json:"agents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		printError("Failed to parse agents: %v", err)
		return
	}
	if len(out.Agents) == 0 {
		fmt.Println("No agents online.")
		return
	}
	fmt.Println("Online agents:")
	for _, a := range out.Agents {
		fmt.Printf("  %s v%s (%s)\n", a.Name, a.Version, strings.Join(a.Capabilities, ", "))
	}
}

func fetchHealth(server string) {
	resp, err := http.Get(server + "/api/health")
	if err != nil {
		printError("Failed to fetch health: %v", err)
		return
	}
	defer resp.Body.Close()

	var h struct {
		Status            string `json:"status"`
		Agents            int    `json:"agents"`
		AgentsOnline      int    `json:"agents_online"`
		DelegationsActive int    `json:"delegations_active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		printError("Failed to parse health: %v", err)
		return
	}
	icon := "\033[31m✗\033[0m"
	if h.Status == "ok" {
		icon = "\033[32m✓\033[0m"
	}
	fmt.Printf("%s %s: %d/%d agents online, %d delegations running\n",
		icon, h.Status, h.AgentsOnline, h.Agents, h.DelegationsActive)
}

func sendMessage(server, user, content string) {
	body, _ := json.Marshal(map[string]string{
		"user_name": user,
		"message":   content,
	})

	client := &http.Client{Timeout: 65 * time.Second}
	resp, err := client.Post(
		server+"/api/chat",
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}

	var msg struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		printError("Failed to parse response: %v", err)
		return
	}
	fmt.Printf("\033[36m[MESH]\033[0m %s\n", msg.Response)
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
