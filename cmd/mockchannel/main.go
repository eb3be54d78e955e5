package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8081")
	settings := Settings{
		RenderSuccessRate: getEnvFloat("RENDER_SUCCESS_RATE", 0.95),
		SendSuccessRate:   getEnvFloat("SEND_SUCCESS_RATE", 0.95),
		DeliveryRate:      getEnvFloat("DELIVERY_RATE", 0.9),
		MinDelay:          getEnvDuration("MIN_DELAY", 200*time.Millisecond),
		MaxDelay:          getEnvDuration("MAX_DELAY", 2*time.Second),
		VideoBaseURL:      getEnv("VIDEO_BASE_URL", "https://videos.example.com"),
		CallbackURL:       getEnv("CALLBACK_URL", "http://localhost:8080/api/v1/callbacks/delivery"),
	}

	log.Info().
		Str("port", port).
		Float64("render_success_rate", settings.RenderSuccessRate).
		Float64("send_success_rate", settings.SendSuccessRate).
		Str("callback_url", settings.CallbackURL).
		Msg("starting mock renderer and channel")

	mock := NewMock(settings)
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      SetupRouter(mock),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	mock.Wait()
	log.Info().Msg("server exited")
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
