// guidezella-chat is a terminal client for the guidezella server.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/manifoldco/promptui"
	"github.com/nawresmhed/guidezella/pkg/sse"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var server = flag.String("server", "http://localhost:5000", "base URL of the guidezella server")

type command int

const (
	commandNone command = iota
	commandQuit
	commandList
	commandSpeak
)

func parseCommand(line string) (command, []string) {
	if !strings.HasPrefix(line, "/") {
		return commandNone, nil
	}
	words := strings.Fields(line[1:])
	if len(words) == 0 {
		return commandNone, nil
	}
	switch strings.ToLower(words[0]) {
	case "q", "quit":
		return commandQuit, words[1:]
	case "commands", "help", "?":
		return commandList, words[1:]
	case "speak", "tts":
		return commandSpeak, words[1:]
	default:
		fmt.Printf("Unknown command %s, ignoring...\n", words[0])
		return commandList, nil
	}
}

func handleListCommand() {
	fmt.Println(`List of possible commands:
- help, commands, or ?: this command -- show the list of commands.
- speak <file>: save the last reply as audio into the file.
- q, quit: quit this program.`)
}

type client struct {
	base      string
	http      *http.Client
	lastReply string
}

// send posts the message and prints the reply as it streams in.
func (c *client) send(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/chat?format=sse", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var reply strings.Builder
	scanner := sse.NewScanner(resp.Body)
	for {
		ev, err := scanner.Scan()
		if errors.Is(err, io.EOF) {
			return errors.New("stream ended unexpectedly")
		}
		if err != nil {
			return err
		}
		switch ev.Event {
		case sse.EventMessage:
			fmt.Println(ev.Data)
			if reply.Len() > 0 {
				reply.WriteString("\n")
			}
			reply.WriteString(ev.Data)
		case sse.EventError:
			return errors.New(ev.Data)
		case sse.EventDone:
			c.lastReply = reply.String()
			return nil
		}
	}
}

func (c *client) speak(ctx context.Context, path string) error {
	if c.lastReply == "" {
		return errors.New("nothing to speak yet")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/tts", nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set("text", c.lastReply)
	req.URL.RawQuery = q.Encode()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func main() {
	flag.Parse()
	c := &client{base: strings.TrimSuffix(*server, "/"), http: http.DefaultClient}

	p := promptui.Prompt{
		Label: "> ",
	}
	for {
		line, err := p.Run()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, promptui.ErrInterrupt) {
				return
			}
			log.Fatal(err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cmd, args := parseCommand(line)
		switch cmd {
		case commandQuit:
			return
		case commandList:
			handleListCommand()
			continue
		case commandSpeak:
			path := "reply.mp3"
			if len(args) > 0 {
				path = args[0]
			}
			if err := c.speak(context.Background(), path); err != nil {
				fmt.Printf("Failed to synthesize: %v\n", err)
			} else {
				fmt.Printf("Saved to %s\n", path)
			}
			continue
		}

		// Ctrl-C cancels the reply in flight, not the program.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		if err := c.send(ctx, line); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
		stop()
	}
}
