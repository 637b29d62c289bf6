package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"webhook-receiver/internal/analytics"
	"webhook-receiver/internal/config"
	"webhook-receiver/internal/event"
	"webhook-receiver/internal/forward"
	"webhook-receiver/internal/history"
	"webhook-receiver/internal/llm"
	"webhook-receiver/internal/reply"
	"webhook-receiver/internal/scheduler"
	"webhook-receiver/internal/server"
	"webhook-receiver/internal/session"
	"webhook-receiver/internal/storage"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("⚠️ .env file not found: %v", err)
	}

	cfg := config.New()

	events := storage.NewEventStore(cfg.EventStoreSize)
	conversations := history.NewManager(cfg.SessionHistoryLimit)
	contexts := storage.NewContextStore()

	model := llm.NewService(llm.NewFactory(cfg), string(cfg.LLMProvider), cfg.OpenAIModel)
	if st := model.Status(); !st.Available {
		log.Printf("⚠️ llm unavailable (%s): replies will be skipped", st.Reason)
	}

	var rec storage.Recorder
	if cfg.LLMLogPath != "" {
		fr, err := storage.NewFileRecorder(cfg.LLMLogPath)
		if err != nil {
			log.Printf("❌ failed to init llm roundtrip recorder: %v", err)
		} else {
			rec = fr
		}
	}

	pipeline := reply.New(reply.Deps{
		Model:         model,
		Conversations: conversations,
		Context:       contexts,
		Forwarder:     newForwarder(cfg),
		Recorder:      rec,
	})
	dispatcher := reply.NewDispatcher(pipeline, reply.DispatcherOptions{
		Mode:      reply.Mode(cfg.DispatchMode),
		Workers:   cfg.DispatchWorkers,
		QueueSize: cfg.DispatchQueueSize,
		Timeout:   cfg.ReplyTimeout,
	})

	log.Printf("reply dispatch mode=%s, session history limit=%d, event store capacity=%d",
		dispatcher.Mode(), conversations.Limit(), events.Capacity())

	sched := scheduler.New(cfg.DigestSchedule)
	sched.SetReportFunction(func(ctx context.Context) error {
		stats := analytics.AnalyzeDailyEvents(events.Snapshot(), time.Now().UTC())
		log.Print(stats.GenerateReportSummary())
		record, err := stats.ToJSON()
		if err != nil {
			return fmt.Errorf("encode digest: %w", err)
		}
		log.Printf("daily_digest %s", record)
		return nil
	})
	if err := sched.Start(); err != nil {
		log.Fatalf("❌ failed to start scheduler: %v", err)
	}

	srv := server.New(server.Deps{
		Events:        events,
		Conversations: conversations,
		Context:       contexts,
		Normalizer:    event.NewNormalizer(cfg.DefaultSource),
		Resolver:      session.NewResolver(
			session.WithKeys(cfg.SessionKeys),
			session.WithNestedKeys(cfg.SessionNestedKeys),
		),
		Dispatcher:    dispatcher,
		Model:         model,
		Digest:        sched,
		SessionHeader: cfg.SessionHeader,
		MaxBodyBytes:  cfg.MaxBodyBytes,
	})

	go func() {
		if err := srv.Start(cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ HTTP server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Println("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	if err := dispatcher.Close(ctx); err != nil {
		log.Printf("reply queue not drained: %v", err)
	}
	sched.Stop()
}

func newForwarder(cfg *config.Config) forward.Forwarder {
	var fs []forward.Forwarder
	if url := cfg.ForwardTarget(); url != "" {
		fs = append(fs, forward.NewWebhook(url, cfg.ForwardTimeout))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		tg, err := forward.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			log.Printf("❌ failed to init telegram forwarder: %v", err)
		} else {
			fs = append(fs, tg)
		}
	}
	return forward.Combine(fs...)
}
