package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/shopez/ez-agent/agent/contract"
	dialoguex "github.com/shopez/ez-agent/agent/dialogue"
	escalationx "github.com/shopez/ez-agent/agent/escalation"
	flowx "github.com/shopez/ez-agent/agent/flow"
	gatewayx "github.com/shopez/ez-agent/agent/gateway/postgres"
	nlux "github.com/shopez/ez-agent/agent/nlu"
	promptx "github.com/shopez/ez-agent/agent/prompt"
	replyx "github.com/shopez/ez-agent/agent/reply"
	statex "github.com/shopez/ez-agent/agent/state"
	configx "github.com/shopez/ez-agent/pkg/config"
	_ "github.com/shopez/ez-agent/pkg/logger/autoload"
	openrouterx "github.com/shopez/ez-agent/pkg/openrouter"
	qstashx "github.com/shopez/ez-agent/pkg/qstash"
)

type AppConfig struct {
	// StoreBackend selects the conversation store: "redis" or "upstash".
	StoreBackend string `envconfig:"STORE_BACKEND" default:"upstash"`

	// HandoffDestination is the queue endpoint escalations are published to.
	// Empty disables handoff notifications.
	HandoffDestination string `envconfig:"HANDOFF_DESTINATION"`

	// InactivityTimeout after which an unfinished flow is resolved.
	InactivityTimeout time.Duration `envconfig:"INACTIVITY_TIMEOUT" default:"30m"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("EZAGENT")

	store := newStore(ctx, appCfg.StoreBackend)
	locks := statex.NewLocks()

	gatewayCfg := configx.MustNew[gatewayx.Config]("POSTGRES")
	gateway, err := gatewayx.New(*gatewayCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres gateway")
	}
	defer gateway.Close()

	openRouterCfg := configx.MustNew[openrouterx.Config]("OPENROUTER")
	chatModel, err := openRouterCfg.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("create chat model")
	}
	if client := openrouterx.NewClient(*openRouterCfg); client != nil {
		if err := openrouterx.ModelAvailable(ctx, client, openRouterCfg.Model); err != nil {
			log.Warn().Err(err).Str("model", openRouterCfg.Model).Msg("model availability check failed, continuing")
		}
	}

	prompts := promptx.LoadPromptSet()
	classifier, err := nlux.NewLLMClassifier(ctx, chatModel, prompts.Classifier)
	if err != nil {
		log.Fatal().Err(err).Msg("create classifier")
	}

	catalog := flowx.DefaultCatalog()
	extractor, err := nlux.NewExtractor(classifier, catalog, nlux.DefaultConfidenceThreshold)
	if err != nil {
		log.Fatal().Err(err).Msg("create extractor")
	}

	engine, err := flowx.NewEngine(gateway, catalog, flowx.DefaultReasonTable(), escalationx.DefaultPolicy())
	if err != nil {
		log.Fatal().Err(err).Msg("create workflow engine")
	}

	watchdog, err := flowx.NewWatchdog(store, locks, appCfg.InactivityTimeout, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("create watchdog")
	}
	go watchdog.Run(ctx)

	service, err := dialoguex.New(
		store,
		locks,
		extractor,
		engine,
		replyx.NewComposer(),
		gateway,
		newNotifier(appCfg.HandoffDestination),
		watchdog,
		dialoguex.Config{InactivityTimeout: appCfg.InactivityTimeout},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("create dialogue service")
	}

	runChatLoop(ctx, service)
}

func newStore(ctx context.Context, backend string) statex.Store {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "redis":
		cfg := configx.MustNew[statex.RedisConfig]("REDIS")
		store, err := statex.NewRedisStore(ctx, *cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis store")
		}
		return store
	default:
		cfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		store, err := statex.NewUpstashRedisStore(*cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("create upstash store")
		}
		return store
	}
}

func newNotifier(destination string) contractx.HandoffNotifier {
	if strings.TrimSpace(destination) == "" {
		return nil
	}
	qstashCfg := configx.MustNew[qstashx.Config]("QSTASH")
	notifier, err := escalationx.NewQStashNotifier(qstashx.MustNew(*qstashCfg), destination)
	if err != nil {
		log.Fatal().Err(err).Msg("create handoff notifier")
	}
	return notifier
}

func runChatLoop(ctx context.Context, service *dialoguex.Service) {
	conversationID := uuid.NewString()
	fmt.Printf("conversation %s started, type a message (ctrl-d to quit)\n", conversationID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		if ctx.Err() != nil {
			return
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		reply, err := service.HandleMessage(ctx, conversationID, text)
		if err != nil {
			log.Error().Err(err).Msg("handle message failed")
			continue
		}

		fmt.Println(reply.Text)
		if len(reply.Actions) > 0 {
			labels := make([]string, 0, len(reply.Actions))
			for _, a := range reply.Actions {
				labels = append(labels, string(a))
			}
			fmt.Printf("  [%s]\n", strings.Join(labels, " | "))
		}
	}
}
