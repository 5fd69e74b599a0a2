// Command basic_client registers a realm, broadcasts one event, and prints
// everything the hub streams back for a few seconds.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	stat7sdk "github.com/openmultiverse/stat7hub/sdk/go"
	"github.com/openmultiverse/stat7hub/pkg/wire"
)

func main() {
	url := os.Getenv("HUB_URL")
	if url == "" {
		url = "ws://127.0.0.1:8000/ws"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := stat7sdk.Dial(ctx, url, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	if err := client.RegisterGame(stat7sdk.Registration{
		GameID:        "example-tavern",
		RealmID:       "Golden Dragon",
		DeveloperName: "example",
		RealmType:     "social",
		Adjacency:     []string{"hub"},
		Resonance:     0.5,
		Velocity:      0.1,
	}); err != nil {
		log.Fatal(err)
	}

	reg, err := client.WaitForType(ctx, wire.EventGameRegistered)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("registered at", reg.Data["address"])

	if err := client.Publish("example-tavern", "", "announce",
		map[string]any{"msg": "open"}); err != nil {
		log.Fatal(err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-client.Events():
			if !ok {
				if err := client.Err(); err != nil {
					log.Fatal(err)
				}
				return
			}
			fmt.Printf("seq=%d type=%s data=%v\n", env.Seq, env.EventType, env.Data)
		}
	}
}
