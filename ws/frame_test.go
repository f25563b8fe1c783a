package ws

import (
	"bytes"
	"testing"
)

func TestParseFrameConnect(t *testing.T) {
	raw := []byte("CONNECT\nAuthorization:Bearer abc.def.ghi\n\n\x00")
	f, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if f.Command != "CONNECT" {
		t.Errorf("Command = %q, want CONNECT", f.Command)
	}
	if f.Headers["Authorization"] != "Bearer abc.def.ghi" {
		t.Errorf("Authorization header = %q", f.Headers["Authorization"])
	}
	if len(f.Body) != 0 {
		t.Errorf("Body = %q, want empty", f.Body)
	}
}

func TestParseFrameSendWithBody(t *testing.T) {
	raw := []byte("SEND\ndestination:/app/game/g1/move\n\n{\"row\":3,\"col\":4}\x00")
	f, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if f.Headers["destination"] != "/app/game/g1/move" {
		t.Errorf("destination = %q", f.Headers["destination"])
	}
	if !bytes.Equal(f.Body, []byte(`{"row":3,"col":4}`)) {
		t.Errorf("Body = %q", f.Body)
	}
}

func TestParseFrameMalformed(t *testing.T) {
	if _, err := ParseFrame([]byte("")); err == nil {
		t.Fatal("expected error for empty frame")
	}
}

func TestFrameMarshalRoundTrip(t *testing.T) {
	f := &Frame{Command: "SUBSCRIBE", Headers: map[string]string{"destination": "/topic/game/g1"}}
	data := f.Marshal()
	parsed, err := ParseFrame(data)
	if err != nil {
		t.Fatalf("ParseFrame after Marshal: %v", err)
	}
	if parsed.Command != "SUBSCRIBE" || parsed.Headers["destination"] != "/topic/game/g1" {
		t.Errorf("round trip mismatch: %+v", parsed)
	}
}

func TestNewMessageFrameCarriesDestinationAndBody(t *testing.T) {
	data, err := newMessageFrame("/user/queue/match-found", MatchFoundPayload{GameID: "g1", YourPlayerNumber: 1})
	if err != nil {
		t.Fatalf("newMessageFrame: %v", err)
	}
	f, err := ParseFrame(data)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if f.Command != "MESSAGE" {
		t.Errorf("Command = %q, want MESSAGE", f.Command)
	}
	if f.Headers["destination"] != "/user/queue/match-found" {
		t.Errorf("destination = %q", f.Headers["destination"])
	}
	if !bytes.Contains(f.Body, []byte(`"gameId":"g1"`)) {
		t.Errorf("Body missing gameId: %s", f.Body)
	}
}

func TestNewErrorFrame(t *testing.T) {
	data, err := newErrorFrame("/user/queue/errors", ErrorPayload{ErrorCode: "NOT_YOUR_TURN", Message: "not your turn"})
	if err != nil {
		t.Fatalf("newErrorFrame: %v", err)
	}
	f, err := ParseFrame(data)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if f.Command != "ERROR" {
		t.Errorf("Command = %q, want ERROR", f.Command)
	}
	if !bytes.Contains(f.Body, []byte("NOT_YOUR_TURN")) {
		t.Errorf("Body missing error code: %s", f.Body)
	}
}

func TestParseAppDestination(t *testing.T) {
	cases := []struct {
		dest       string
		gameID     string
		action     string
		wantParsed bool
	}{
		{"/app/game/g1/move", "g1", "move", true},
		{"/app/game/g1/forfeit", "g1", "forfeit", true},
		{"/app/game/g1/resign", "", "", false},
		{"/topic/game/g1", "", "", false},
	}
	for _, tc := range cases {
		gameID, action, ok := parseAppDestination(tc.dest)
		if ok != tc.wantParsed {
			t.Errorf("parseAppDestination(%q) ok = %v, want %v", tc.dest, ok, tc.wantParsed)
			continue
		}
		if ok && (gameID != tc.gameID || action != tc.action) {
			t.Errorf("parseAppDestination(%q) = (%q, %q), want (%q, %q)", tc.dest, gameID, action, tc.gameID, tc.action)
		}
	}
}
