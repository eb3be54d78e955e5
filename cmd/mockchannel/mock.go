package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type RenderRequest struct {
	TemplateRef   string `json:"template_ref"`
	RecipientName string `json:"recipient_name"`
}

type SendRequest struct {
	To      string `json:"to" binding:"required"`
	Message string `json:"message" binding:"required"`
}

type SendResponse struct {
	DeliveryID string `json:"delivery_id,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// DeliveryCallback mirrors the body the api accepts on /callbacks/delivery.
type DeliveryCallback struct {
	DeliveryID string `json:"delivery_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

type Settings struct {
	RenderSuccessRate float64
	SendSuccessRate   float64
	DeliveryRate      float64
	MinDelay          time.Duration
	MaxDelay          time.Duration
	VideoBaseURL      string
	CallbackURL       string
}

// Mock simulates the rendering service and the WA channel, including the
// asynchronous delivery reports the channel posts back.
type Mock struct {
	settings Settings
	client   *http.Client
	mu       sync.Mutex
	rng      *rand.Rand
	wg       sync.WaitGroup
}

func NewMock(s Settings) *Mock {
	return &Mock{
		settings: s,
		client:   &http.Client{Timeout: 5 * time.Second},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *Mock) roll(rate float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64() < rate
}

func (m *Mock) randomDelay() time.Duration {
	delta := m.settings.MaxDelay - m.settings.MinDelay
	if delta <= 0 {
		return m.settings.MinDelay
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings.MinDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *Mock) Render(c *gin.Context) {
	var req RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.TemplateRef) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "template_ref is required"})
		return
	}

	time.Sleep(m.randomDelay())

	if !m.roll(m.settings.RenderSuccessRate) {
		log.Warn().Str("template", req.TemplateRef).Str("name", req.RecipientName).Msg("render failed")
		c.JSON(http.StatusOK, gin.H{"error": "render engine error"})
		return
	}

	url := fmt.Sprintf("%s/%s/%s.mp4", strings.TrimRight(m.settings.VideoBaseURL, "/"), req.TemplateRef, uuid.NewString())
	log.Info().Str("template", req.TemplateRef).Str("name", req.RecipientName).Str("url", url).Msg("video rendered")
	c.JSON(http.StatusOK, gin.H{"video_url": url})
}

func (m *Mock) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	time.Sleep(m.randomDelay())

	if !m.roll(m.settings.SendSuccessRate) {
		log.Warn().Str("to", req.To).Msg("message rejected")
		c.JSON(http.StatusOK, SendResponse{Status: "REJECTED", Error: "recipient is not on WA"})
		return
	}

	id := uuid.NewString()
	log.Info().Str("to", req.To).Str("delivery_id", id).Msg("message accepted")
	c.JSON(http.StatusOK, SendResponse{DeliveryID: id, Status: "ACCEPTED"})

	if m.settings.CallbackURL != "" {
		m.wg.Add(1)
		go m.report(id)
	}
}

// report posts the final delivery status after a delay.
func (m *Mock) report(deliveryID string) {
	defer m.wg.Done()
	time.Sleep(m.randomDelay())

	cb := DeliveryCallback{DeliveryID: deliveryID, Status: "DELIVERED"}
	if !m.roll(m.settings.DeliveryRate) {
		cb.Status = "UNDELIVERED"
		cb.Error = "handset unreachable"
	}

	body, _ := json.Marshal(cb)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.settings.CallbackURL, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Msg("failed to build callback")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("delivery_id", deliveryID).Msg("callback failed")
		return
	}
	resp.Body.Close()
	log.Info().Str("delivery_id", deliveryID).Str("status", cb.Status).Int("code", resp.StatusCode).Msg("callback sent")
}

// Wait blocks until every pending callback was attempted.
func (m *Mock) Wait() {
	m.wg.Wait()
}

func (m *Mock) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
}

func SetupRouter(m *Mock) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/render", m.Render)
		v1.POST("/messages/send", m.Send)
	}
	router.GET("/health", m.Health)

	return router
}
