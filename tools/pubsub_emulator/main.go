package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Queues of the commands: the topic and its subscription share the same name
var queues = []string{
	"insar-events",     // results of the stack and time-series jobs
	"insar-stack",      // stack jobs (common.StackInput)
	"insar-timeseries", // time-series jobs (common.TimeSeriesInput)
}

func main() {
	ctx := context.Background()

	if _, ok := os.LookupEnv("PUBSUB_EMULATOR_HOST"); !ok {
		os.Setenv("PUBSUB_EMULATOR_HOST", "localhost:8085")
	}

	projectID := flag.String("project", "insar-emulator", "emulator project")
	ackDeadline := flag.Duration("ack-deadline", 10*time.Second, "ack deadline of the subscriptions")
	flag.Parse()

	log.Print("New client for project " + *projectID)
	client, err := pubsub.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatalf("pubsub.NewClient: %v", err)
	}
	defer client.Close()

	for _, queue := range queues {
		log.Print("Create Topic : " + queue)
		if _, err = client.CreateTopic(ctx, queue); err != nil && status.Code(err) != codes.AlreadyExists {
			log.Fatalf("pubsub.CreateTopic: %v", err)
		}
		log.Print("Create Subscription : " + queue)
		if _, err = client.CreateSubscription(ctx, queue, pubsub.SubscriptionConfig{
			Topic:       client.Topic(queue),
			AckDeadline: *ackDeadline,
		}); err != nil && status.Code(err) != codes.AlreadyExists {
			log.Fatalf("CreateSubscription: %v", err)
		}
	}

	log.Print("Done!")
}
