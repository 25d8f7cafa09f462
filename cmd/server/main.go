package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"

	"clinic-frontdesk/internal/audio"
	"clinic-frontdesk/internal/callctx"
	"clinic-frontdesk/internal/convo"
	"clinic-frontdesk/internal/db"
	"clinic-frontdesk/internal/emr"
	"clinic-frontdesk/internal/httpapi"
	"clinic-frontdesk/internal/llm"
	"clinic-frontdesk/internal/telephony"
	"clinic-frontdesk/internal/verify"
)

func main() {
	// Load environment variables
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL must be set")
	}
	emrBase := os.Getenv("EMR_BASE_URL")
	if emrBase == "" {
		log.Fatal("EMR_BASE_URL must be set")
	}
	hospitalID := os.Getenv("HOSPITAL_ID")
	if hospitalID == "" {
		log.Fatal("HOSPITAL_ID must be set")
	}
	notifyChannel := os.Getenv("POSTGRES_NOTIFY_CHANNEL")
	if notifyChannel == "" {
		notifyChannel = "call_status"
	}

	// Open database connection
	dbConn, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbConn.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}
	if err := db.Migrate(context.Background(), dbConn); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	repo := db.NewRepository(dbConn)
	notifier := db.NewNotifier(dbConn, notifyChannel)

	// Telephony provider (uses env: TWILIO_*, PUBLIC_BASE_URL)
	provider, err := telephony.NewTwilio(telephony.Config{
		AccountSID:    os.Getenv("TWILIO_ACCOUNT_SID"),
		AuthToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		FromNumber:    os.Getenv("TWILIO_FROM_NUMBER"),
		PublicBaseURL: os.Getenv("PUBLIC_BASE_URL"),
	})
	if err != nil {
		log.Fatalf("failed to configure telephony: %v", err)
	}

	registry := emr.NewHTTPClient(emrBase, os.Getenv("EMR_TOKEN"))
	// Initialize OpenAI LLM client (uses env: OPENAI_API_KEY, OPENAI_MODEL_CHAT)
	llmClient := llm.NewOpenAIClient()

	contexts := callctx.NewStore()
	machine := convo.NewMachine(convo.NewSessionStore(), registry, llmClient,
		provider, contexts, repo, os.Getenv("TWILIO_FROM_NUMBER"))

	srv := &httpapi.Server{
		Machine:       machine,
		Verifier:      verify.New(registry),
		Contexts:      contexts,
		Provider:      provider,
		Registry:      registry,
		Logs:          repo,
		Notifier:      notifier,
		Summarizer:    convo.NewSummarizer(llmClient),
		PublicBaseURL: os.Getenv("PUBLIC_BASE_URL"),
		HospitalID:    hospitalID,
		ClinicLine:    os.Getenv("TWILIO_FROM_NUMBER"),
	}

	// Optional pre-recorded greeting for the voice leg.
	if path := os.Getenv("GREETING_MP3"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			log.Fatalf("failed to open greeting prompt: %v", err)
		}
		frames, err := audio.LoadPromptFrames(f)
		f.Close()
		if err != nil {
			log.Fatalf("failed to load greeting prompt: %v", err)
		}
		srv.PromptFrames = frames
	}

	// Mirror call-status transitions from NOTIFY into the process log so
	// a restarted instance still sees updates applied by its peers.
	go func() {
		ch, err := notifier.Listen(context.Background(), dbURL)
		if err != nil {
			log.Printf("call-status listener unavailable: %v", err)
			return
		}
		for payload := range ch {
			log.Printf("call status update: %s", payload)
		}
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	addr := ":" + port
	log.Printf("Listening on %s", addr)
	if err := http.ListenAndServe(addr, srv.Router()); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
