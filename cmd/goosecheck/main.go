package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/park285/goose-tap-client/internal/goosefast"
	"github.com/park285/goose-tap-client/internal/pushchan"
	"github.com/park285/goose-tap-client/pkg/goosedto"
)

func main() {
	_ = godotenv.Load()
	baseURL := os.Getenv("GOOSE_BASE_URL")
	wsURL := os.Getenv("GOOSE_WS_URL")
	username := os.Getenv("GOOSE_USERNAME")
	password := os.Getenv("GOOSE_PASSWORD")
	token := os.Getenv("GOOSE_TOKEN")

	if baseURL == "" {
		log.Fatal("GOOSE_BASE_URL is required")
	}

	client := goosefast.NewClient(baseURL, goosefast.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if username != "" {
		if u, err := client.Login(ctx, username, password); err != nil {
			log.Printf("/auth/login error: %v", err)
		} else {
			log.Printf("/auth/login ok: id=%s username=%s role=%s", u.ID, u.Username, u.Role)
		}
	}
	if u, err := client.Me(ctx); err != nil {
		log.Printf("/auth/me error: %v", err)
	} else if u == nil {
		log.Println("/auth/me: no session")
	} else {
		log.Printf("/auth/me ok: id=%s username=%s role=%s", u.ID, u.Username, u.Role)
	}
	page, err := client.ListRounds(ctx, "", 5)
	if err != nil {
		log.Printf("/rounds error: %v", err)
	} else {
		log.Printf("/rounds ok: items=%d hasMore=%v cooldown=%ds round=%ds", len(page.Items), page.HasMore, page.Config.CooldownDuration, page.Config.RoundDuration)
	}

	if wsURL == "" {
		log.Println("GOOSE_WS_URL not set; skipping push check")
		return
	}

	ch := pushchan.New(wsURL,
		pushchan.WithMaxReconnectAttempts(0),
		pushchan.WithHeaderProvider(func() map[string]string {
			return map[string]string{"Cookie": client.Jar().Header()}
		}),
	)
	ch.OnStateChange(func(state pushchan.State) {
		log.Printf("push state: %s", state)
	})
	ch.OnRoundUpdate(func(p goosedto.RoundUpdate) {
		fmt.Printf("round_update id=%s ts=%s\n", p.ID, p.Timestamp)
	})
	ch.OnLeaderboard(func(p goosedto.Leaderboard) {
		fmt.Printf("leaderboard id=%s entries=%d\n", p.ID, len(p.Entries))
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := ch.Connect(cctx, token); err != nil {
		log.Printf("push connect error: %v", err)
		return
	}
	if page != nil && len(page.Items) > 0 {
		ch.JoinRoom(page.Items[0].ID)
		ch.RequestLeaderboard(page.Items[0].ID)
	}

	// observe for a short window
	t := time.NewTimer(10 * time.Second)
	<-t.C

	_ = ch.Disconnect(context.Background())
}
