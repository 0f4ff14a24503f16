package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/m2tx/transformers_agent/internal/agent"
	"github.com/m2tx/transformers_agent/internal/functions"
	"github.com/m2tx/transformers_agent/internal/llm/transformers"
	"github.com/m2tx/transformers_agent/internal/repository"
)

const systemInstruction = "You are a helpful agent who can answer user questions about the time and weather in a city."

func main() {
	_ = godotenv.Load()

	log.SetOutput(os.Stdout)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetLevel(getLogLevel())

	ctx := context.Background()

	model := transformers.New(getModel(), transformers.Config{
		APIKey:       os.Getenv("TRANSFORMERS_API_KEY"),
		BaseURL:      os.Getenv("TRANSFORMERS_BASE_URL"),
		Organization: os.Getenv("TRANSFORMERS_ORG"),
	})

	repo, cleanup, err := buildRepository(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	a := agent.NewWithRepo(model, systemInstruction, repo)

	for _, fd := range []*agent.FunctionDeclaration{
		functions.CreateWeatherFunctionDeclaration(),
		functions.CreateTimeFunctionDeclaration(),
	} {
		if err := a.AddFunctionCall(fd); err != nil {
			log.Fatal(err)
		}
	}

	embedder := agent.NewEmbedder()
	if err := embedder.Index(getDocsDir()); err != nil {
		log.Fatal(err)
	}
	if err := a.AddFunctionCall(functions.CreateDocsSearchFunctionDeclaration(embedder)); err != nil {
		log.Fatal(err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/prompt", handlePrompt(a))
	r.Post("/prompt/stream", handlePromptStream(a))
	r.Get("/history", handleGetHistory(a))
	r.Delete("/history", handleDeleteHistory(a))

	addr := ":" + getHTTPPort()
	log.Infof("server listening at %s (model %s)", addr, getModel())
	log.Fatal(http.ListenAndServe(addr, r))
}

type promptRequest struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
}

func (p *promptRequest) Bind(r *http.Request) error {
	if p.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	return nil
}

func handlePrompt(a *agent.Agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &promptRequest{}
		if err := render.Bind(r, req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.PlainText(w, r, err.Error())
			return
		}

		if req.SessionID == "" {
			req.SessionID = uuid.NewString()
		}

		contents, err := a.Send(r.Context(), req.SessionID, req.Prompt)
		if err != nil {
			log.Errorf("prompt: %v", err)
			render.Status(r, http.StatusInternalServerError)
			render.PlainText(w, r, err.Error())
			return
		}

		render.JSON(w, r, map[string]any{
			"session_id": req.SessionID,
			"contents":   contents,
		})
	}
}

// handlePromptStream streams partial text tokens as SSE frames, followed by
// one frame with the full exchange.
func handlePromptStream(a *agent.Agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &promptRequest{}
		if err := render.Bind(r, req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.PlainText(w, r, err.Error())
			return
		}

		if req.SessionID == "" {
			req.SessionID = uuid.NewString()
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			render.Status(r, http.StatusInternalServerError)
			render.PlainText(w, r, "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")

		contents, err := a.SendStream(r.Context(), req.SessionID, req.Prompt, func(token string) {
			writeSSE(w, map[string]any{"text": token})
			flusher.Flush()
		})
		if err != nil {
			log.Errorf("prompt stream: %v", err)
			writeSSE(w, map[string]any{"error": err.Error()})
			flusher.Flush()
			return
		}

		writeSSE(w, map[string]any{
			"session_id": req.SessionID,
			"contents":   contents,
		})
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("marshal sse payload: %v", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func handleGetHistory(a *agent.Agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			render.Status(r, http.StatusBadRequest)
			render.PlainText(w, r, "session_id is required")
			return
		}

		contents, err := a.GetSession(r.Context(), sessionID)
		if err != nil {
			log.Errorf("history: %v", err)
			render.Status(r, http.StatusInternalServerError)
			render.PlainText(w, r, "get session")
			return
		}

		render.JSON(w, r, contents)
	}
}

func handleDeleteHistory(a *agent.Agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			render.Status(r, http.StatusBadRequest)
			render.PlainText(w, r, "session_id is required")
			return
		}

		a.ClearSession(r.Context(), sessionID)
		render.NoContent(w, r)
	}
}

// buildRepository returns a Mongo-backed session store when MONGODB_URI is
// set, an in-memory store otherwise.
func buildRepository(ctx context.Context) (repository.SessionRepository, func(), error) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		log.Info("MONGODB_URI not set, using in-memory session store")
		return repository.NewMemorySessionRepository(), func() {}, nil
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongodb connect: %w", err)
	}

	cleanup := func() {
		if err := mongoClient.Disconnect(ctx); err != nil {
			log.Warnf("mongodb disconnect: %v", err)
		}
	}

	database := mongoClient.Database(getMongoDB())
	return repository.NewMongoSessionRepository(database, "sessions"), cleanup, nil
}

func getModel() string {
	model := os.Getenv("MODEL")
	if model == "" {
		model = "meta-llama/Llama-3.2-1B-Instruct"
	}

	return model
}

func getHTTPPort() string {
	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080"
	}

	return port
}

func getMongoDB() string {
	db := os.Getenv("MONGODB_DB")
	if db == "" {
		db = "agent_sessions"
	}

	return db
}

func getDocsDir() string {
	dir := os.Getenv("DOCS_DIR")
	if dir == "" {
		dir = "docs"
	}

	return dir
}

func getLogLevel() log.Level {
	level, err := log.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return log.InfoLevel
	}

	return level
}
