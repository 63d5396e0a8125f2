// Command tokad runs a single Toka node: a Capability Validator, Event
// Store, Event Bus, and Runtime bound together, with an in-memory
// Orchestration Engine that drives a small built-in demo fleet of agent
// specs to completion against a stub LLM Gateway and tool registry.
//
// # Configuration
//
// Environment variables:
//
//	TOKAD_SECRET        - HMAC signing secret for capability tokens (default: a random value generated at startup; only the fact that one was generated is logged, not the value)
//	TOKAD_EVENTSTORE     - "mem" or "mongo" (default: "mem")
//	MONGO_URI            - Mongo connection string, required when TOKAD_EVENTSTORE=mongo
//	MONGO_DATABASE       - Mongo database name (default: "tokad")
//	TOKAD_CONCURRENCY    - max concurrently-running agents (default: 8)
//	TOKAD_TOKEN_TTL      - capability token lifetime (default: "5m")
//
// # Example
//
//	TOKAD_EVENTSTORE=mem go run ./cmd/tokad
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/toka-systems/toka/capability"
	"github.com/toka-systems/toka/eventbus"
	"github.com/toka-systems/toka/eventstore"
	"github.com/toka-systems/toka/eventstore/memstore"
	"github.com/toka-systems/toka/eventstore/mongostore"
	"github.com/toka-systems/toka/executor"
	"github.com/toka-systems/toka/gateway"
	"github.com/toka-systems/toka/ids"
	"github.com/toka-systems/toka/orchestration"
	"github.com/toka-systems/toka/orchestration/inmem"
	tokaruntime "github.com/toka-systems/toka/runtime/core"
	"github.com/toka-systems/toka/tools"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx := context.Background()

	secret := envSecretOr("TOKAD_SECRET")
	concurrency := envIntOr("TOKAD_CONCURRENCY", 8)
	tokenTTL := envDurationOr("TOKAD_TOKEN_TTL", 5*time.Minute)

	store, err := newStore(ctx)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	bus := eventbus.NewInMemoryBus()
	validator := capability.NewValidator(secret, capability.NewMemoryNonceCache())
	rt := tokaruntime.New(store, bus, validator)
	defer func() {
		if err := rt.Close(ctx); err != nil {
			log.Printf("close runtime: %v", err)
		}
	}()

	issuer := capability.NewIssuer(secret)
	runnerToken, err := issuer.Issue(ids.Root, []string{"agents.spawn"}, tokenTTL, ids.NewEventId().String())
	if err != nil {
		return fmt.Errorf("issue orchestrator token: %w", err)
	}

	reg := tools.NewRegistry()
	reg.Register("echo", tools.ToolFunc(func(_ context.Context, args []byte) (tools.Result, error) {
		return tools.Result{Payload: args}, nil
	}))

	gw := gateway.TextGateway{Server: mustEchoGateway()}

	agentSpecs := map[string]*executor.AgentSpec{
		"greeter": {
			Name:         "greeter",
			Version:      "1",
			Capabilities: permissionSet("scheduler.submit", "scheduler.report", "agents.observe", "agents.terminate"),
			Tools:        permissionSet("echo"),
			Objectives: []executor.Objective{{
				Name: "greet",
				Steps: []executor.Step{{
					Tool:        "echo",
					Permissions: []string{"echo"},
					Args:        json.RawMessage(`{"message":"hello from tokad"}`),
				}},
			}},
		},
	}

	engine := inmem.New(concurrency, func(ctx context.Context, agentID string, spec orchestration.Spec) error {
		agentSpec, ok := agentSpecs[spec.Name]
		if !ok {
			return fmt.Errorf("tokad: no agent spec registered for %q", spec.Name)
		}
		agentToken, err := issuer.Issue(ids.Root, requiredPermissions(agentSpec), tokenTTL, ids.NewEventId().String())
		if err != nil {
			return fmt.Errorf("issue agent token: %w", err)
		}
		var agent ids.EntityId
		if err := agent.UnmarshalText([]byte(agentID)); err != nil {
			return fmt.Errorf("tokad: parse agent id %q: %w", agentID, err)
		}
		exec := executor.New(rt, reg, gw, agentToken, agent, agentSpec, executor.Options{})
		report, err := exec.Run(ctx)
		if err != nil {
			return err
		}
		log.Printf("agent %s finished: %+v", spec.Name, report)
		return nil
	})

	runner := orchestration.NewRunner(rt, engine, runnerToken, orchestration.WithConcurrency(concurrency))
	report, err := runner.Run(ctx, []orchestration.Spec{
		{Name: "greeter", Priority: orchestration.PriorityMedium},
	})
	if err != nil {
		return fmt.Errorf("run orchestration: %w", err)
	}
	log.Printf("orchestration finished: %+v", report)
	return nil
}

func newStore(ctx context.Context) (eventstore.Store, error) {
	switch envOr("TOKAD_EVENTSTORE", "mem") {
	case "mongo":
		uri := os.Getenv("MONGO_URI")
		if uri == "" {
			return nil, fmt.Errorf("MONGO_URI is required when TOKAD_EVENTSTORE=mongo")
		}
		client, err := mongo.Connect(options.Client().ApplyURI(uri))
		if err != nil {
			return nil, fmt.Errorf("connect to mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		collection := client.Database(envOr("MONGO_DATABASE", "tokad")).Collection("events")
		s := mongostore.New(collection)
		if err := s.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		return s, nil
	default:
		return memstore.New(), nil
	}
}

// mustEchoGateway wires a stub provider so the demo fleet runs without any
// external LLM credentials; real deployments pass gateway.WithProvider an
// anthropic/openai/bedrock adapter instead.
func mustEchoGateway() *gateway.Server {
	srv, err := gateway.NewServer(gateway.WithProvider(stubGateway{}))
	if err != nil {
		panic(err)
	}
	return srv
}

type stubGateway struct{}

func (stubGateway) Complete(_ context.Context, req *gateway.Request) (*gateway.Response, error) {
	return &gateway.Response{Text: "ok", StopReason: "end_turn"}, nil
}

func (stubGateway) Stream(context.Context, *gateway.Request) (gateway.Streamer, error) {
	return nil, gateway.ErrStreamingUnsupported
}

func requiredPermissions(spec *executor.AgentSpec) []string {
	perms := []string{"scheduler.submit", "scheduler.report", "agents.observe", "agents.terminate"}
	for name := range spec.Capabilities {
		perms = append(perms, name)
	}
	for name := range spec.Tools {
		perms = append(perms, name)
	}
	return perms
}

func permissionSet(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envSecretOr(key string) []byte {
	if v := os.Getenv(key); v != "" {
		return []byte(v)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		log.Fatalf("generate capability secret: %v", err)
	}
	log.Printf("%s not set; generated an ephemeral signing secret for this process", key)
	return secret
}
