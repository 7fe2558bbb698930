package tgfast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSplitMessageShortPassthrough(t *testing.T) {
	parts := splitMessage("привет", maxMessageLen)
	if len(parts) != 1 || parts[0] != "привет" {
		t.Fatalf("unexpected split: %v", parts)
	}
}

func TestSplitMessagePrefersNewlines(t *testing.T) {
	text := strings.Repeat("a", 90) + "\n" + strings.Repeat("b", 90)
	parts := splitMessage(text, 100)
	if len(parts) != 2 {
		t.Fatalf("want 2 parts, got %d", len(parts))
	}
	if strings.Contains(parts[0], "b") || strings.Contains(parts[1], "a") {
		t.Fatalf("split not at the newline: %q | %q", parts[0], parts[1])
	}
}

func TestSplitMessageHardCutWithoutNewlines(t *testing.T) {
	text := strings.Repeat("д", 250) // multibyte, must not split mid-rune
	parts := splitMessage(text, 100)
	total := 0
	for _, p := range parts {
		if n := len([]rune(p)); n > 100 {
			t.Fatalf("chunk over limit: %d runes", n)
		}
		for _, r := range p {
			if r != 'д' {
				t.Fatalf("rune broken in chunk %q", p)
			}
		}
		total += len([]rune(p))
	}
	if total != 250 {
		t.Fatalf("runes lost: %d", total)
	}
}

func newAPIServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("TESTTOKEN", WithAPIBase(srv.URL), WithTimeout(2*time.Second))
	return srv, c
}

func TestGetMeDecodesEnvelope(t *testing.T) {
	_, c := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/botTESTTOKEN/getMe") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"snail","username":"snail_bot"}}`)
	})

	me, err := c.GetMe(context.Background())
	if err != nil {
		t.Fatalf("GetMe: %v", err)
	}
	if me.ID != 42 || me.Username != "snail_bot" {
		t.Fatalf("bad decode: %+v", me)
	}
	if c.BotID() != 42 {
		t.Fatalf("bot id not cached: %d", c.BotID())
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	_, c := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	})
	if _, err := c.GetMe(context.Background()); err == nil || !strings.Contains(err.Error(), "Unauthorized") {
		t.Fatalf("expected API error, got %v", err)
	}
}

func TestSendMessageSplitsLongText(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	_, c := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		bodies = append(bodies, req.Text)
		mu.Unlock()
		fmt.Fprint(w, `{"ok":true,"result":{}}`)
	})

	long := strings.Repeat("x", maxMessageLen+10)
	if err := c.SendMessage(context.Background(), 1, long); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(bodies) != 2 {
		t.Fatalf("want 2 chunks, got %d", len(bodies))
	}
	if len(bodies[0])+len(bodies[1]) != maxMessageLen+10 {
		t.Fatalf("text lost across chunks")
	}
}

func TestPollerAdvancesOffset(t *testing.T) {
	offsets := make(chan int64, 16)
	served := false
	_, c := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/getUpdates") {
			fmt.Fprint(w, `{"ok":true,"result":{}}`)
			return
		}
		var req getUpdatesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		select {
		case offsets <- req.Offset:
		default:
		}
		if !served {
			served = true
			fmt.Fprint(w, `{"ok":true,"result":[{"update_id":77,"message":{"message_id":1,"chat":{"id":5,"type":"private"},"text":"hi"}}]}`)
			return
		}
		fmt.Fprint(w, `{"ok":true,"result":[]}`)
	})

	got := make(chan string, 1)
	p := NewPoller(c, 0)
	p.OnMessage(func(msg *Message) {
		select {
		case got <- msg.Text:
		default:
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Close()

	select {
	case text := <-got:
		if text != "hi" {
			t.Fatalf("wrong message: %q", text)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("update never delivered")
	}

	first := <-offsets
	if first != 0 {
		t.Fatalf("first poll offset: %d", first)
	}
	select {
	case next := <-offsets:
		if next != 78 {
			t.Fatalf("offset not advanced: %d", next)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("second poll never happened")
	}
}
