package aibridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gomoku-match-core/gameerrors"
	"gomoku-match-core/session"
)

func TestRequestMoveSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body requestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.CurrentPlayer != 2 || body.Difficulty != session.AIHard {
			t.Fatalf("unexpected request body: %+v", body)
		}
		json.NewEncoder(w).Encode(responseBody{Row: 3, Col: 4})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	board := make([][]int, session.BoardSize)
	for i := range board {
		board[i] = make([]int, session.BoardSize)
	}
	row, col, err := c.RequestMove(context.Background(), board, 2, session.AIHard)
	if err != nil {
		t.Fatalf("RequestMove: %v", err)
	}
	if row != 3 || col != 4 {
		t.Fatalf("RequestMove = (%d,%d), want (3,4)", row, col)
	}
}

func TestRequestMoveTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		json.NewEncoder(w).Encode(responseBody{Row: 0, Col: 0})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Millisecond)
	board := [][]int{{0}}
	_, _, err := c.RequestMove(context.Background(), board, 1, session.AIEasy)
	if !errors.Is(err, gameerrors.ErrAIUnavailable) {
		t.Fatalf("err = %v, want ErrAIUnavailable", err)
	}
}

func TestRequestMoveNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	board := [][]int{{0}}
	_, _, err := c.RequestMove(context.Background(), board, 1, session.AIEasy)
	if !errors.Is(err, gameerrors.ErrAIUnavailable) {
		t.Fatalf("err = %v, want ErrAIUnavailable", err)
	}
}

func TestRequestMoveEmptyBaseURL(t *testing.T) {
	c := NewClient("", time.Second)
	board := [][]int{{0}}
	_, _, err := c.RequestMove(context.Background(), board, 1, session.AIEasy)
	if !errors.Is(err, gameerrors.ErrAIUnavailable) {
		t.Fatalf("err = %v, want ErrAIUnavailable", err)
	}
}
