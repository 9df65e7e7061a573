// ABOUTME: Minimal agent speaking the familiar subprocess protocol — echoes prompts with markdown.
// ABOUTME: Usage: echo-agent [-slow 10s] [-fail] [-mute]
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// frame is one JSON line in either direction.
type frame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Tool      string `json:"tool,omitempty"`
	Text      string `json:"text,omitempty"`
	Message   string `json:"message,omitempty"`
}

func main() {
	slow := flag.Duration("slow", 0, "delay before answering, for exercising the watchdog")
	fail := flag.Bool("fail", false, "answer every prompt with an error event")
	mute := flag.Bool("mute", false, "never answer, for exercising the kill-on-timeout path")
	flag.Parse()

	if err := run(*slow, *fail, *mute); err != nil {
		log.Fatal(err)
	}
}

func run(slow time.Duration, fail, mute bool) error {
	out := json.NewEncoder(os.Stdout)
	emit := func(f frame) {
		if err := out.Encode(f); err != nil {
			log.Fatalf("emit error: %v", err)
		}
	}

	sessionID := uuid.New().String()[:8]
	emit(frame{Type: "ready", SessionID: sessionID})
	fmt.Fprintf(os.Stderr, "echo-agent ready (session: %s)\n", sessionID)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var in frame
		if err := json.Unmarshal(line, &in); err != nil {
			emit(frame{Type: "error", Message: fmt.Sprintf("bad frame: %v", err)})
			continue
		}
		if in.Type != "prompt" {
			continue
		}

		log.Printf("received prompt [%s]: %s", in.ID, in.Text)
		emit(frame{Type: "agent_start"})

		if mute {
			// Swallow the prompt; the supervisor's watchdog has to kill us.
			continue
		}
		if slow > 0 {
			time.Sleep(slow)
		}
		if fail {
			emit(frame{Type: "error", Message: "echo-agent was started with -fail"})
			continue
		}

		emit(frame{Type: "toolcall_start", Tool: "echo"})
		time.Sleep(50 * time.Millisecond)
		emit(frame{Type: "toolcall_end", Tool: "echo"})
		emit(frame{Type: "agent_end", Text: echoReply(in.Text)})
	}
	return scanner.Err()
}

func echoReply(input string) string {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "markdown") || strings.Contains(lower, "bullet") || strings.Contains(lower, "list") {
		return "Here is a **markdown** response:\n\n- First item\n- Second item with `code`\n- Third item\n\n> This is a blockquote.\n"
	}
	return fmt.Sprintf("Echo: **%s**\n\nI received your message and am responding with some *formatted* text.", input)
}
