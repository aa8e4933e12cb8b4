package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/congo-pay/tipvault/internal/chain"
)

const (
	eventNewTransaction = "new_transaction"
	eventRescan         = "rescan"
	eventHistorySynced  = "history_synced"
	eventNewStable      = "new_stable_topoheight"

	feedBuffer = 64
)

type notification struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type topoheightData struct {
	Topoheight uint64 `json:"topoheight"`
}

type rescanData struct {
	StartTopoheight uint64 `json:"start_topoheight"`
}

type stableData struct {
	StableTopoheight uint64 `json:"stable_topoheight"`
}

type subscription struct {
	client *Client
	conn   *websocket.Conn
	fail   func(error)
	once   sync.Once
}

func (s *subscription) close(err error) {
	s.fail(err)
	s.once.Do(func() {
		_ = s.conn.Close()
		s.client.mu.Lock()
		delete(s.client.subs, s)
		s.client.mu.Unlock()
	})
}

func (c *Client) websocketURL() string {
	u := strings.TrimRight(c.cfg.URL, "/") + rpcPath
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return u
	}
}

// SubscribeEvents streams new transactions, rescans and sync completions.
func (c *Client) SubscribeEvents(ctx context.Context) (chain.Subscription[chain.Event], error) {
	events := []string{eventNewTransaction, eventRescan, eventHistorySynced}
	return subscribe(ctx, c, events, decodeEvent)
}

// SubscribeStableTopoheight streams stable topoheight changes.
func (c *Client) SubscribeStableTopoheight(ctx context.Context) (chain.Subscription[uint64], error) {
	return subscribe(ctx, c, []string{eventNewStable}, func(n notification) (uint64, bool, error) {
		if n.Event != eventNewStable {
			return 0, false, nil
		}
		var data stableData
		if err := json.Unmarshal(n.Data, &data); err != nil {
			return 0, false, err
		}
		return data.StableTopoheight, true, nil
	})
}

func decodeEvent(n notification) (chain.Event, bool, error) {
	switch n.Event {
	case eventNewTransaction:
		var entry chain.TransactionEntry
		if err := json.Unmarshal(n.Data, &entry); err != nil {
			return chain.Event{}, false, err
		}
		return chain.Event{Kind: chain.EventNewTransaction, Transaction: entry, Topoheight: entry.Topoheight}, true, nil
	case eventRescan:
		var data rescanData
		if err := json.Unmarshal(n.Data, &data); err != nil {
			return chain.Event{}, false, err
		}
		return chain.Event{Kind: chain.EventRescan, Topoheight: data.StartTopoheight}, true, nil
	case eventHistorySynced:
		var data topoheightData
		if err := json.Unmarshal(n.Data, &data); err != nil {
			return chain.Event{}, false, err
		}
		return chain.Event{Kind: chain.EventSynced, Topoheight: data.Topoheight}, true, nil
	default:
		return chain.Event{}, false, nil
	}
}

func subscribe[T any](ctx context.Context, c *Client, events []string, decode func(notification) (T, bool, error)) (chain.Subscription[T], error) {
	header := http.Header{}
	for k, v := range c.headers {
		header.Set(k, v)
	}
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.Timeout}
	conn, _, err := dialer.DialContext(ctx, c.websocketURL(), header)
	if err != nil {
		return nil, fmt.Errorf("dial wallet websocket: %w", err)
	}

	for _, event := range events {
		req := request{
			JSONRPC: "2.0",
			ID:      c.nextID.Add(1),
			Method:  "subscribe",
			Params:  map[string]string{"notify": event},
		}
		if err := conn.WriteJSON(req); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("subscribe %s: %w", event, err)
		}
	}

	feed := chain.NewFeed[T](feedBuffer)
	sub := &subscription{client: c, conn: conn, fail: feed.Fail}
	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.close(ctx.Err())
		case <-feed.Done():
			sub.close(feed.Err())
		}
	}()

	go func() {
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				sub.close(fmt.Errorf("wallet websocket: %w", err))
				return
			}
			var resp response
			if err := json.Unmarshal(payload, &resp); err == nil && resp.Error != nil {
				sub.close(resp.Error)
				return
			}
			var n notification
			if err := json.Unmarshal(payload, &n); err != nil || n.Event == "" {
				continue
			}
			v, ok, err := decode(n)
			if err != nil {
				sub.close(fmt.Errorf("decode %s: %w", n.Event, err))
				return
			}
			if ok && !feed.Publish(ctx, v) {
				return
			}
		}
	}()

	return feed, nil
}
