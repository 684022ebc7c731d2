package main

import (
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Cyprinus12138/otelgin"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

type errorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code,omitempty"`
	DeclineCode string `json:"decline_code,omitempty"`
	Message     string `json:"message"`
}

type reply struct {
	status int
	body   any
	raw    string
}

// Simulator imitates the charges endpoint of the primary card processor.
// Responses are replayed for a repeated Idempotency-Key.
type Simulator struct {
	scenarios *Scenarios
	secretKey string
	logger    *slog.Logger

	mu   sync.Mutex
	seen map[string]reply
}

func NewSimulator(scenarios *Scenarios, secretKey string, logger *slog.Logger) *Simulator {
	return &Simulator{
		scenarios: scenarios,
		secretKey: secretKey,
		logger:    logger,
		seen:      make(map[string]reply),
	}
}

func (s *Simulator) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("processor-sim"))

	router.GET("/-/live", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/v1/charges", s.createCharge)
	return router
}

func (s *Simulator) createCharge(c *gin.Context) {
	if s.secretKey != "" && c.GetHeader("Authorization") != "Bearer "+s.secretKey {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errorBody{
			Type:    "invalid_request_error",
			Message: "Invalid API Key provided",
		}})
		return
	}

	key := c.GetHeader("Idempotency-Key")
	if key != "" {
		s.mu.Lock()
		r, ok := s.seen[key]
		s.mu.Unlock()
		if ok {
			s.write(c, r)
			return
		}
	}

	r := s.charge(c)
	if key != "" && r.status != http.StatusServiceUnavailable {
		s.mu.Lock()
		s.seen[key] = r
		s.mu.Unlock()
	}
	s.write(c, r)
}

func (s *Simulator) charge(c *gin.Context) reply {
	pan := c.PostForm("card[number]")
	amount, err := strconv.ParseInt(c.PostForm("amount"), 10, 64)
	if pan == "" || err != nil || amount <= 0 {
		return invalidRequest("amount and card[number] are required")
	}

	sc := s.scenarios.For(pan)
	s.logger.InfoContext(c.Request.Context(), "charge",
		slog.String("card", "****"+last4(pan)),
		slog.Int64("amount", amount),
		slog.String("result", string(sc.Result)))

	if sc.Delay > 0 {
		select {
		case <-time.After(sc.Delay):
		case <-c.Request.Context().Done():
			return reply{status: http.StatusServiceUnavailable}
		}
	}

	id := "ch_sim_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	switch sc.Result {
	case ResultApprove:
		return reply{status: http.StatusOK, body: gin.H{
			"id":                 id,
			"object":             "charge",
			"amount":             amount,
			"currency":           c.PostForm("currency"),
			"status":             "succeeded",
			"paid":               true,
			"authorization_code": fmt.Sprintf("%06d", rand.Intn(1000000)),
		}}
	case ResultDecline:
		return reply{status: http.StatusOK, body: gin.H{
			"id":           id,
			"object":       "charge",
			"status":       "failed",
			"paid":         false,
			"failure_code": "card_declined",
			"outcome":      gin.H{"network_status": "declined_by_network", "reason": sc.DeclineCode},
		}}
	case ResultCardError:
		return reply{status: http.StatusPaymentRequired, body: gin.H{"error": errorBody{
			Type:        "card_error",
			Code:        "card_declined",
			DeclineCode: sc.DeclineCode,
			Message:     "Your card was declined.",
		}}}
	case ResultUnavailable:
		return reply{status: http.StatusServiceUnavailable, raw: "service unavailable"}
	case ResultMalformed:
		return reply{status: http.StatusOK, raw: "<html>gateway</html>"}
	default:
		return invalidRequest(fmt.Sprintf("unknown scenario result %q", sc.Result))
	}
}

func invalidRequest(msg string) reply {
	return reply{status: http.StatusBadRequest, body: gin.H{"error": errorBody{
		Type:    "invalid_request_error",
		Message: msg,
	}}}
}

func (s *Simulator) write(c *gin.Context, r reply) {
	if r.body == nil {
		c.String(r.status, r.raw)
		return
	}
	c.JSON(r.status, r.body)
}

func last4(pan string) string {
	if len(pan) <= 4 {
		return pan
	}
	return pan[len(pan)-4:]
}
