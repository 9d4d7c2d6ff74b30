// Package http serves the escrow orchestrator over a JSON REST API built on
// gin. Handlers validate input, delegate to the orchestrator or the query
// façade and wrap results in a {success, data} envelope.
package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"

	escrow "github.com/tripartite/escrow"
	"github.com/tripartite/escrow/orchestrator"
)

// Validation codes of the REST surface
const (
	ErrCodeInvalidBody  = "invalid_body"
	ErrCodeInvalidBlock = "invalid_block"
)

// IdempotencyHeader carries an optional caller idempotency key on writes
const IdempotencyHeader = "Idempotency-Key"

// Identities are the signing parties the service acts as. The arbiter
// deploys, completes and cancels; the payer deposits.
type Identities struct {
	Arbiter orchestrator.Identity
	Payer   orchestrator.Identity
}

// HealthResponse is the body of GET /api/health
type HealthResponse struct {
	Status  string               `json:"status"`
	Network escrow.NetworkStatus `json:"network"`
	Arbiter common.Address       `json:"arbiter"`
	Payer   common.Address       `json:"payer"`
}

// BalanceResponse is the body of GET /api/balance/:address
type BalanceResponse struct {
	Address common.Address `json:"address"`
	Balance string         `json:"balance"` // ether
	Wei     string         `json:"wei"`
}

// AgreementResponse adds ether-formatted amounts to the agreement view
type AgreementResponse struct {
	*escrow.AgreementView
	Balance         string `json:"balance"`
	DepositedAmount string `json:"depositedAmount"`
}

// Server holds the dependencies of the REST handlers
type Server struct {
	orch       *orchestrator.Orchestrator
	query      *orchestrator.Query
	identities Identities
	metrics    *orchestrator.Metrics
	log        *logrus.Entry
}

// Option configures a Server
type Option func(*Server)

// WithMetrics exposes m on GET /metrics
func WithMetrics(m *orchestrator.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the request logger
func WithLogger(log *logrus.Entry) Option {
	return func(s *Server) { s.log = log }
}

// NewServer creates the REST server
func NewServer(orch *orchestrator.Orchestrator, identities Identities, opts ...Option) *Server {
	s := &Server{
		orch:       orch,
		query:      orch.Query(),
		identities: identities,
		log:        logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "http")
	return s
}

// Router builds the gin engine with every route registered
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	api := r.Group("/api")
	api.GET("/health", s.health)
	api.GET("/balance/:address", s.balance)

	contracts := api.Group("/contracts")
	contracts.POST("/deploy", s.deploy)
	contracts.GET("/:address", s.agreement)
	contracts.GET("/:address/requirements/:index", s.requirement)
	contracts.GET("/:address/events", s.events)
	contracts.POST("/:address/deposit", s.deposit)
	contracts.POST("/:address/complete/:requirementId", s.complete)
	contracts.POST("/:address/cancel", s.cancel)
	contracts.POST("/:address/emergency-withdraw", s.emergencyWithdraw)

	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	}
	r.NoRoute(func(c *gin.Context) {
		fail(c, escrow.NewError(escrow.KindNotFound, "route_not_found", "no route for "+c.Request.URL.Path, nil))
	})
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	}
}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) health(c *gin.Context) {
	status, err := s.query.NetworkStatus(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, HealthResponse{
		Status:  "ok",
		Network: status,
		Arbiter: s.identities.Arbiter.Address(),
		Payer:   s.identities.Payer.Address(),
	})
}

func (s *Server) balance(c *gin.Context) {
	addr, err := ParseAddress(c.Param("address"))
	if err != nil {
		fail(c, err)
		return
	}
	bal, err := s.query.BalanceOf(c.Request.Context(), addr)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, BalanceResponse{
		Address: addr,
		Balance: escrow.FormatEther(bal),
		Wei:     bal.String(),
	})
}

func (s *Server) deploy(c *gin.Context) {
	var req DeployRequest
	if err := bindBody(c, deploySchema, &req); err != nil {
		fail(c, err)
		return
	}
	payer, err := ParseAddress(req.Payer)
	if err != nil {
		fail(c, err)
		return
	}
	beneficiary, err := ParseAddress(req.Beneficiary)
	if err != nil {
		fail(c, err)
		return
	}

	result, err := s.orch.Deploy(c.Request.Context(), s.identities.Arbiter, payer, beneficiary, req.Requirements, callOptions(c)...)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, result)
}

func (s *Server) agreement(c *gin.Context) {
	addr, err := ParseAddress(c.Param("address"))
	if err != nil {
		fail(c, err)
		return
	}
	view, err := s.query.Agreement(c.Request.Context(), addr)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, AgreementResponse{
		AgreementView:   view,
		Balance:         escrow.FormatEther(view.Info.Balance),
		DepositedAmount: escrow.FormatEther(view.Info.DepositedAmount),
	})
}

func (s *Server) requirement(c *gin.Context) {
	addr, err := ParseAddress(c.Param("address"))
	if err != nil {
		fail(c, err)
		return
	}
	index, err := ParseIndex(c.Param("index"))
	if err != nil {
		fail(c, err)
		return
	}
	req, err := s.query.Requirement(c.Request.Context(), addr, index)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, req)
}

func (s *Server) events(c *gin.Context) {
	addr, err := ParseAddress(c.Param("address"))
	if err != nil {
		fail(c, err)
		return
	}
	from, err := ParseBlockNumber(c.Query("fromBlock"))
	if err != nil {
		fail(c, err)
		return
	}
	events, err := s.query.Events(c.Request.Context(), addr, from)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, events)
}

func (s *Server) deposit(c *gin.Context) {
	addr, err := ParseAddress(c.Param("address"))
	if err != nil {
		fail(c, err)
		return
	}
	var req DepositRequest
	if err := bindBody(c, depositSchema, &req); err != nil {
		fail(c, err)
		return
	}
	amount, err := ParseEtherAmount(req.Amount)
	if err != nil {
		fail(c, err)
		return
	}

	result, err := s.orch.Deposit(c.Request.Context(), s.identities.Payer, addr, amount, callOptions(c)...)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

func (s *Server) complete(c *gin.Context) {
	addr, err := ParseAddress(c.Param("address"))
	if err != nil {
		fail(c, err)
		return
	}
	index, err := ParseIndex(c.Param("requirementId"))
	if err != nil {
		fail(c, err)
		return
	}

	result, err := s.orch.CompleteRequirement(c.Request.Context(), s.identities.Arbiter, addr, index, callOptions(c)...)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

func (s *Server) cancel(c *gin.Context) {
	addr, err := ParseAddress(c.Param("address"))
	if err != nil {
		fail(c, err)
		return
	}
	result, err := s.orch.Cancel(c.Request.Context(), s.identities.Arbiter, addr, callOptions(c)...)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

func (s *Server) emergencyWithdraw(c *gin.Context) {
	addr, err := ParseAddress(c.Param("address"))
	if err != nil {
		fail(c, err)
		return
	}
	result, err := s.orch.EmergencyWithdraw(c.Request.Context(), s.identities.Arbiter, addr, callOptions(c)...)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

// ============================================================================
// Helpers
// ============================================================================

func bindBody(c *gin.Context, schema gojsonschema.JSONLoader, out interface{}) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	return validateBody(schema, body, out)
}

func callOptions(c *gin.Context) []orchestrator.CallOption {
	if key := c.GetHeader(IdempotencyHeader); key != "" {
		return []orchestrator.CallOption{orchestrator.WithIdempotencyKey(key)}
	}
	return nil
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, err error) {
	var e *escrow.Error
	if !errors.As(err, &e) {
		e = escrow.NewInternalError(err.Error(), err)
	}
	c.AbortWithStatusJSON(StatusFor(e.Kind), gin.H{"success": false, "error": e})
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind escrow.ErrorKind) int {
	switch kind {
	case escrow.KindValidation:
		return http.StatusBadRequest
	case escrow.KindAuthorization:
		return http.StatusForbidden
	case escrow.KindStateConflict, escrow.KindIdempotency:
		return http.StatusConflict
	case escrow.KindNotFound:
		return http.StatusNotFound
	case escrow.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		return nil, escrow.NewError(escrow.KindValidation, ErrCodeInvalidBody, "failed to read request body", nil)
	}
	return body, nil
}
