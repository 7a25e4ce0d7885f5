// Command tripflow runs the trip-planning workflow interactively: type a trip
// request, pick one of the generated options, then approve or reject the
// booking as the administrator. Every pause survives a restart: quit between
// steps and the run picks up where it left off.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/tripflow-ai/tripflow/flow"
	"github.com/tripflow-ai/tripflow/flow/emit"
	"github.com/tripflow-ai/tripflow/flow/model"
	"github.com/tripflow-ai/tripflow/flow/model/anthropic"
	"github.com/tripflow-ai/tripflow/flow/model/google"
	"github.com/tripflow-ai/tripflow/flow/model/openai"
	"github.com/tripflow-ai/tripflow/flow/store"
	"github.com/tripflow-ai/tripflow/trip"
)

func main() {
	dbPath := flag.String("db", "tripflow.db", "SQLite database path for run state")
	provider := flag.String("provider", "", "chat model provider: openai, anthropic, google, mock (default: first provider with an API key set)")
	modelName := flag.String("model", "", "model name (default: provider default)")
	verbose := flag.Bool("verbose", false, "log engine events to stderr")
	flag.Parse()

	ctx := context.Background()

	st, err := store.NewSQLiteStore(*dbPath)
	if err != nil {
		log.Fatalf("open state store: %v", err)
	}
	defer st.Close()

	chat, closeModel, err := buildModel(ctx, *provider, *modelName)
	if err != nil {
		log.Fatalf("configure model: %v", err)
	}
	if closeModel != nil {
		defer closeModel()
	}

	var emitter emit.Emitter
	if *verbose {
		emitter = emit.NewLogEmitter(os.Stderr, false)
	}

	svc, err := trip.NewService(trip.ServiceOptions{
		Model:    chat,
		Store:    st,
		Notifier: &consoleNotifier{},
		Emitter:  emitter,
	})
	if err != nil {
		log.Fatalf("build service: %v", err)
	}

	fmt.Println("tripflow - interactive trip planner")
	fmt.Println("commands:")
	fmt.Println("  plan <trip-id> <request>      start a trip, e.g. plan t1 3 days in Denver")
	fmt.Println("  select <trip-id> <option-id>  choose one of the offered options")
	fmt.Println("  approve <trip-id> [comment]   approve the booking request")
	fmt.Println("  reject <trip-id> [comment]    reject the booking request")
	fmt.Println("  pending                       list outstanding approvals")
	fmt.Println("  quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := fields[0]

		switch cmd {
		case "quit", "exit":
			return

		case "plan":
			if len(fields) < 3 {
				fmt.Println("usage: plan <trip-id> <request>")
				continue
			}
			report(svc.HandleMessage(ctx, fields[1], strings.Join(fields[2:], " ")))

		case "select":
			if len(fields) != 3 {
				fmt.Println("usage: select <trip-id> <option-id>")
				continue
			}
			id, err := strconv.Atoi(fields[2])
			if err != nil {
				fmt.Println("option-id must be a number")
				continue
			}
			report(svc.HandleSelection(ctx, fields[1], id))

		case "approve", "reject":
			if len(fields) < 2 {
				fmt.Printf("usage: %s <trip-id> [comment]\n", cmd)
				continue
			}
			status := trip.StatusApproved
			if cmd == "reject" {
				status = trip.StatusRejected
			}
			report(svc.HandleApproval(ctx, fields[1], status, strings.Join(fields[2:], " ")))

		case "pending":
			list, err := svc.PendingApprovals(ctx)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			if len(list) == 0 {
				fmt.Println("no pending approvals")
				continue
			}
			for _, p := range list {
				fmt.Printf("  trip=%s port=%s at=%s\n    %s\n", p.RunID, p.PortID, p.CreatedAt.Format("15:04:05"), string(p.Payload))
			}

		default:
			fmt.Printf("unknown command: %s\n", cmd)
		}
	}
}

// report prints the outcome of a service call without aborting the loop.
func report(err error) {
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

// buildModel selects a chat model. An explicit -provider wins; otherwise the
// first provider with an API key in the environment is used, falling back to
// the mock. API keys are read from the environment only.
func buildModel(ctx context.Context, provider, modelName string) (model.ChatModel, func() error, error) {
	if provider == "" {
		switch {
		case os.Getenv("OPENAI_API_KEY") != "":
			provider = "openai"
		case os.Getenv("ANTHROPIC_API_KEY") != "":
			provider = "anthropic"
		case os.Getenv("GOOGLE_API_KEY") != "":
			provider = "google"
		default:
			provider = "mock"
		}
	}

	switch provider {
	case "openai":
		m, err := openai.New(os.Getenv("OPENAI_API_KEY"), modelName)
		return m, nil, err
	case "anthropic":
		m, err := anthropic.New(os.Getenv("ANTHROPIC_API_KEY"), modelName)
		return m, nil, err
	case "google":
		m, err := google.New(ctx, os.Getenv("GOOGLE_API_KEY"), modelName)
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil
	case "mock":
		fmt.Println("no API key found; using canned options (set OPENAI_API_KEY, ANTHROPIC_API_KEY, or GOOGLE_API_KEY)")
		return mockModel(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", provider)
	}
}

// mockModel returns a ChatModel with canned itinerary options so the CLI
// works offline.
func mockModel() model.ChatModel {
	options := map[string]any{
		"options": []trip.TripOption{
			{ID: 1, Title: "City Explorer", City: "Denver", Days: 3, Summary: "Museums, food halls, and LoDo nightlife.", EstimatedCost: 900},
			{ID: 2, Title: "Mountain Escape", City: "Boulder", Days: 3, Summary: "Day hikes in the Flatirons with downtown evenings.", EstimatedCost: 750},
			{ID: 3, Title: "Hot Springs Loop", City: "Glenwood Springs", Days: 3, Summary: "Soak, hike, and ride the scenic rail.", EstimatedCost: 1100},
		},
	}
	raw, _ := json.Marshal(options)
	return &model.MockChatModel{Responses: []model.ChatOut{{Text: string(raw)}}}
}

// consoleNotifier prints workflow notifications the way a messaging channel
// would show them to the user.
type consoleNotifier struct{}

func (consoleNotifier) Notify(_ context.Context, n flow.Notification) error {
	switch n.Kind {
	case flow.NotificationRunStarted:
		fmt.Printf("🧳 [%s] %s\n", n.RunID, n.Message)
	case flow.NotificationRequest:
		raw, _ := json.MarshalIndent(n.Payload, "", "  ")
		fmt.Printf("⏸️  [%s] input needed at %s:\n%s\n", n.RunID, n.PortID, string(raw))
	case flow.NotificationCompleted:
		raw, _ := json.MarshalIndent(n.Payload, "", "  ")
		fmt.Printf("✅ [%s] done:\n%s\n", n.RunID, string(raw))
	case flow.NotificationFailed:
		fmt.Printf("❌ [%s] failed: %s\n", n.RunID, n.Message)
	}
	return nil
}
