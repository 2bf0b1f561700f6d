package api

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

type sseEvent struct {
	ID   string
	Name string
	Data []byte
}

// readSSEEvents parses an event stream until EOF. Comment lines are skipped.
func readSSEEvents(reader io.Reader, out chan<- sseEvent) {
	defer close(out)

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	current := sseEvent{}
	var data bytes.Buffer
	emit := func() {
		if current.Name == "" && data.Len() == 0 {
			return
		}
		current.Data = append([]byte{}, data.Bytes()...)
		out <- current
		current = sseEvent{}
		data.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			emit()
		case strings.HasPrefix(line, ":"):
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "id":
				current.ID = value
			case "event":
				current.Name = value
			case "data":
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(value)
			}
		}
	}
	emit()
}
