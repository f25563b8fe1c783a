package ws

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Frame is one STOMP-like message exchanged over the /ws connection: a
// command line, header lines, a blank line, then a body (§4.5).
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

var errMalformedFrame = errors.New("malformed frame")

// ParseFrame decodes one websocket text message into a Frame.
func ParseFrame(data []byte) (*Frame, error) {
	lines := bytes.SplitN(data, []byte("\n\n"), 2)
	head := lines[0]
	var body []byte
	if len(lines) == 2 {
		body = bytes.TrimRight(lines[1], "\x00")
	}

	headLines := bytes.Split(head, []byte("\n"))
	if len(headLines) == 0 || len(headLines[0]) == 0 {
		return nil, errMalformedFrame
	}

	f := &Frame{
		Command: string(bytes.TrimSpace(headLines[0])),
		Headers: make(map[string]string, len(headLines)-1),
		Body:    body,
	}
	for _, line := range headLines[1:] {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		parts := bytes.SplitN(line, []byte(":"), 2)
		if len(parts) != 2 {
			continue
		}
		f.Headers[string(bytes.TrimSpace(parts[0]))] = string(bytes.TrimSpace(parts[1]))
	}
	return f, nil
}

// Marshal encodes the frame back to wire form.
func (f *Frame) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')
	for k, v := range f.Headers {
		buf.WriteString(k)
		buf.WriteByte(':')
		buf.WriteString(v)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	return buf.Bytes()
}

// newMessageFrame builds a server-pushed MESSAGE frame addressed to destination.
func newMessageFrame(destination string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	f := &Frame{Command: "MESSAGE", Headers: map[string]string{"destination": destination}, Body: body}
	return f.Marshal(), nil
}

// newErrorFrame builds a server-pushed ERROR frame.
func newErrorFrame(destination string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	f := &Frame{Command: "ERROR", Headers: map[string]string{"destination": destination}, Body: body}
	return f.Marshal(), nil
}
