package oanda

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PriceFunc receives one streamed mid price.
type PriceFunc func(instrument string, mid float64, at time.Time)

type pricingStreamMsg struct {
	Type       string        `json:"type"`
	Time       string        `json:"time"`
	Instrument string        `json:"instrument"`
	Bids       []priceBucket `json:"bids"`
	Asks       []priceBucket `json:"asks"`
}

// StreamPrices holds the pricing stream open and calls fn for every price
// message. Heartbeats are skipped. It returns when ctx is done, the server
// closes the stream, or maxTicks > 0 prices were delivered.
func (c *Client) StreamPrices(ctx context.Context, instruments []string, fn PriceFunc, maxTicks int) (int, error) {
	if len(instruments) == 0 {
		return 0, errors.New("oanda: missing instruments")
	}

	u, err := url.Parse(c.streamURL())
	if err != nil {
		return 0, err
	}
	u.Path = fmt.Sprintf("/v3/accounts/%s/pricing/stream", c.accountID)
	q := u.Query()
	q.Set("instruments", strings.Join(instruments, ","))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept-Datetime-Format", "RFC3339")

	// the request timeout would cut a healthy stream
	stream := &http.Client{Transport: c.httpClient.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return 0, fmt.Errorf("oanda pricing stream http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	sc := bufio.NewScanner(resp.Body)
	// OANDA stream messages can be long; bump max token
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	delivered := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		var msg pricingStreamMsg
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return delivered, fmt.Errorf("oanda: bad json: %w (line=%q)", err, trimForErr(line))
		}
		if !strings.EqualFold(msg.Type, "PRICE") || msg.Instrument == "" {
			continue
		}

		mid, err := clientPrice{Bids: msg.Bids, Asks: msg.Asks}.mid()
		if err != nil {
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, msg.Time)
		if err != nil {
			at = time.Now().UTC()
		}
		fn(msg.Instrument, mid, at)

		delivered++
		if maxTicks > 0 && delivered >= maxTicks {
			return delivered, nil
		}
	}

	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		return delivered, err
	}
	return delivered, ctx.Err()
}

// streamURL swaps the REST host for the streaming host.
func (c *Client) streamURL() string {
	return strings.Replace(c.baseURL, "://api-", "://stream-", 1)
}

func trimForErr(s string) string {
	const n = 200
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
