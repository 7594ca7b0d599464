// package sse provides SSE (server-sent-event) parsing and writing.
package sse

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Event is an event sent from the server.
type Event struct {
	// The name of the event.
	Event string `json:"event"`
	// The payload.
	Data string `json:"data"`
	// The ID of the event.
	ID string `json:"id"`
}

// Scanner offers the functionality to receive events from
// the input.
type Scanner struct {
	scanner *bufio.Scanner
}

// NewScanner creates a new scanner instance.
func NewScanner(r io.Reader) *Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Scanner{scanner: s}
}

// fieldValue strips the colon and at most one following space, so that
// leading whitespace of the payload survives.
func fieldValue(l string, colonPos int) string {
	v := l[colonPos+1:]
	return strings.TrimPrefix(v, " ")
}

// Scan reads a new event from the input. It returns
// nil with io.EOF error if it reaches to the end.
func (s *Scanner) Scan() (*Event, error) {
	ev := &Event{}
	var err error
	var read1 bool
	var dataLines []string
	for s.scanner.Scan() {
		l := strings.TrimSuffix(s.scanner.Text(), "\r")
		if l == "" {
			if !read1 {
				// Blank lines between events.
				continue
			}
			break
		}
		read1 = true
		colonPos := strings.Index(l, ":")
		if colonPos == 0 {
			// comment.
			continue
		}
		var tag, data string
		if colonPos < 0 {
			tag = l
		} else {
			tag = l[:colonPos]
			data = fieldValue(l, colonPos)
		}
		switch tag {
		case "event":
			ev.Event = data
		case "data":
			dataLines = append(dataLines, data)
		case "id":
			ev.ID = data
		case "retry":
		default:
			err = errors.Join(err, fmt.Errorf("unknown field: %s", l))
		}
	}
	if scanErr := s.scanner.Err(); scanErr != nil {
		return nil, scanErr
	}
	if !read1 {
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	ev.Data = strings.Join(dataLines, "\n")
	return ev, nil
}
