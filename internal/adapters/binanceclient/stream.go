package binanceclient

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"

	"researchEngine/internal/domain"
	"researchEngine/internal/symbols"
)

// StreamTickers subscribes to the all-market ticker stream and reconnects with
// exponential backoff until ctx is cancelled or the attempt budget runs out.
// The returned channel closes when streaming stops for good.
func (c *Client) StreamTickers(ctx context.Context, handler func(domain.Ticker)) <-chan struct{} {
	op := "StreamTickers"
	done := make(chan struct{})

	wsHandler := func(event binance.WsAllMarketsStatEvent) {
		for _, st := range event {
			price := parseFloat(st.LastPrice)
			if price <= 0 {
				continue
			}
			handler(domain.Ticker{
				Symbol:    symbols.Normalize(st.Symbol),
				Price:     price,
				High24h:   parseFloat(st.HighPrice),
				Low24h:    parseFloat(st.LowPrice),
				Volume:    parseFloat(st.QuoteVolume),
				Timestamp: time.UnixMilli(st.Time),
			})
		}
	}
	errHandler := func(err error) {
		c.logger.Warn(ctx, op+": WebSocket error reported", map[string]interface{}{"error": err.Error()})
	}

	go func() {
		defer close(done)
		attempt := 0
		for {
			if ctx.Err() != nil {
				return
			}
			innerDone, innerStop, err := binance.WsAllMarketsStatServe(wsHandler, errHandler)
			if err != nil {
				_ = c.handleError(ctx, err, op+" connection attempt")
				attempt++
				if attempt >= c.maxReconnectAttempts {
					c.logger.Error(ctx, err, op+": Max reconnection attempts exceeded, giving up.", map[string]interface{}{"maxAttempts": c.maxReconnectAttempts})
					return
				}
				delay := c.reconnectDelay * time.Duration(1<<uint(attempt-1))
				c.logger.Info(ctx, op+": Connection failed, retrying...", map[string]interface{}{"attempt": attempt + 1, "delay": delay.String()})
				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return
				}
			}

			c.logger.Info(ctx, op+": WebSocket connection established.")
			attempt = 0
			select {
			case <-innerDone:
				c.logger.Warn(ctx, op+": WebSocket connection closed unexpectedly. Reconnecting...")
			case <-ctx.Done():
				close(innerStop)
				<-innerDone
				return
			}
		}
	}()
	return done
}
