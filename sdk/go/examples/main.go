package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"WChain-Bubbles/sdk/go/bubbles"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "Bubbles API base URL")
	session := flag.String("session", "demo-session", "chat session identifier")
	message := flag.String("message", "Who are the top 5 WCO holders?", "message to send")
	flag.Parse()

	client, err := bubbles.NewClient(*addr, bubbles.WithRetries(2))
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	count, err := client.HolderCount(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("holders: %d (%d with balance, source=%s)\n", count.Result.Total, count.Result.WithBalance, count.Source)

	reply, err := client.Chat(ctx, bubbles.ChatRequest{SessionID: *session, Message: *message})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("[%s] %s\n", reply.Source, reply.Reply)
	for _, call := range reply.ToolCalls {
		fmt.Printf("  tool %s %s\n", call.Name, call.Arguments)
	}
}
