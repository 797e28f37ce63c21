package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/satriahrh/sidechain/domain"
)

const defaultFeedURL = "ws://localhost:8080/ws"

// Prints the live transcript feed of a running capture process
func main() {
	godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	url := os.Getenv("FEED_URL")
	if len(os.Args) > 1 {
		url = os.Args[1]
	}
	if url == "" {
		url = defaultFeedURL
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		logger.Fatal("Failed to connect to live feed", zap.String("url", url), zap.Error(err))
	}
	defer conn.Close()

	logger.Info("Connected to live feed", zap.String("url", url))

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	printer := &linePrinter{}
	for {
		var msg domain.LiveEventMessage
		if err := conn.ReadJSON(&msg); err != nil {
			printer.endLine()
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Error("Live feed closed", zap.Error(err))
			}
			return
		}
		printer.print(msg)
	}
}

// linePrinter rewrites the current line for partials and ends it on finals
type linePrinter struct {
	open bool
}

func (p *linePrinter) print(msg domain.LiveEventMessage) {
	switch msg.Type {
	case domain.LiveEventLLMResponse:
		p.endLine()
		fmt.Printf("[backend] %s\n", msg.Text)
	case domain.LiveEventTranscript:
		label := "[mono]"
		if msg.ChannelID != nil {
			label = fmt.Sprintf("[ch%d]", *msg.ChannelID)
		}
		line := fmt.Sprintf("%s %s", label, strings.TrimSpace(msg.Text))
		if msg.IsFinal {
			fmt.Printf("\r\033[K%s\n", line)
			p.open = false
			return
		}
		fmt.Printf("\r\033[K%s", line)
		p.open = true
	}
}

func (p *linePrinter) endLine() {
	if p.open {
		fmt.Println()
		p.open = false
	}
}
