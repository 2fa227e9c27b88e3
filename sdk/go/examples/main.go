package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"TextRelay/sdk/go/textrelay"
)

func main() {
	baseURL := os.Getenv("TEXTRELAY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	client, err := textrelay.NewClient(baseURL, nil)
	if err != nil {
		log.Fatal(err)
	}
	client.SetAccessToken(os.Getenv("TEXTRELAY_TOKEN"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	submission, err := client.SubmitTranslate(ctx, textrelay.TranslateRequest{Text: "今天天气很好", TargetLang: "英文"})
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	fmt.Printf("submitted %s\n", submission.TaskID)

	task, err := client.Wait(ctx, submission.TaskID, time.Second)
	if err != nil {
		log.Fatalf("wait: %v", err)
	}
	fmt.Printf("status=%s result=%s\n", task.Status, task.Result)

	for event, err := range client.StreamSummarize(ctx, textrelay.SummarizeRequest{Text: "Go 是一门简洁高效的编程语言。"}, textrelay.StreamOptions{}) {
		if err != nil {
			log.Fatalf("stream: %v", err)
		}
		switch event.Type {
		case textrelay.EventChunk:
			fmt.Print(event.Content)
		case textrelay.EventDone:
			fmt.Println()
		case textrelay.EventError:
			log.Fatalf("stream failed: %s", event.Message)
		}
	}
}
