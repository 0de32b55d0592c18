package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/admin-masters/Ai-cme/internal/auth"
	"github.com/admin-masters/Ai-cme/internal/database"
	"github.com/admin-masters/Ai-cme/internal/generator"
	"github.com/admin-masters/Ai-cme/internal/plans"
	"github.com/admin-masters/Ai-cme/internal/queue"
	"github.com/admin-masters/Ai-cme/internal/search"
)

func main() {
	db, err := database.Connect()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	broker := queue.NewRedisBroker(redisClient)
	gen := generator.NewGenerator()
	service := plans.NewServiceFromDB(db, gen, broker, search.NewSQLIndex(db), plans.LoadConfig())

	authHandler, err := auth.NewHandlerFromEnv()
	if err != nil {
		log.Fatalf("Auth configuration: %v", err)
	}
	planHandler := plans.NewHandler(service)

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	// Public routes
	api.HandleFunc("/auth/login", authHandler.Login).Methods("POST")

	// Protected routes
	protected := api.PathPrefix("").Subrouter()
	protected.Use(authHandler.Middleware)
	protected.HandleFunc("/topics", planHandler.EnqueueTopic).Methods("POST")
	protected.HandleFunc("/topics/{id}/enqueue-subtopics", planHandler.EnqueueSubtopics).Methods("POST")
	protected.HandleFunc("/topics/{id}/status", planHandler.GetTopicStatus).Methods("GET")
	protected.HandleFunc("/topics/{id}/plan", planHandler.GetStudyPlan).Methods("GET")
	protected.HandleFunc("/topics/{id}/gaps", planHandler.GetContentGaps).Methods("GET")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker := queue.NewWorker(broker)
	service.RegisterWorkers(worker)
	go worker.Run(ctx)

	port := getEnv("PORT", "8080")
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: c.Handler(r),
	}
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
