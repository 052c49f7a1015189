package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// streamEvents implements GET /events/stream: initial
// replay of the last `minutes` (1-60, default 5) then a live tail, with a
// heartbeat at most every 15s so idle proxies don't close the connection.
func (h *handlers) streamEvents(c *gin.Context) {
	minutes := 5
	if v := c.Query("minutes"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 60 {
			minutes = n
		}
	}
	var types []string
	if v := c.Query("types"); v != "" {
		types = strings.Split(v, ",")
	}

	_, inbox, unsubscribe := h.bus.SubscribeStream(minutes, types)
	defer unsubscribe()

	heartbeat := h.heartbeat
	if heartbeat <= 0 || heartbeat > 15*time.Second {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-inbox:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", e.Type, data)
			c.Writer.Flush()
		case <-ticker.C:
			fmt.Fprintf(c.Writer, ": heartbeat\n\n")
			c.Writer.Flush()
		}
	}
}
