// Package server exposes the HTTP surface: provider webhooks and charge
// creation. Webhook endpoints always answer 200 once the body is readable;
// verification failures are absorbed so providers cannot distinguish a
// rejected forgery from a processed event, and legitimate retry storms are
// never triggered by our own errors.
package server

import (
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Manhosu/CineVision-sub001/internal/charge"
	"github.com/Manhosu/CineVision-sub001/internal/effects"
	"github.com/Manhosu/CineVision-sub001/internal/purchase"
	"github.com/Manhosu/CineVision-sub001/internal/reconcile"
)

// maxWebhookBody caps what a webhook endpoint will read. Real provider
// notifications are a few kilobytes; anything near a megabyte is abuse.
const maxWebhookBody = 1 << 20

// Server wires the reconciler and charge service into gin handlers.
type Server struct {
	engine     *gin.Engine
	reconciler *reconcile.Reconciler
	dispatcher *effects.Dispatcher
	charges    *charge.Service
}

func New(reconciler *reconcile.Reconciler, dispatcher *effects.Dispatcher, charges *charge.Service) *Server {
	s := &Server{
		engine:     gin.Default(),
		reconciler: reconciler,
		dispatcher: dispatcher,
		charges:    charges,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	wh := s.engine.Group("/webhooks")
	wh.POST("/stripe", s.webhook(purchase.ProviderStripe))
	wh.POST("/mercadopago", s.webhook(purchase.ProviderMercadoPago))
	wh.POST("/woovi", s.webhook(purchase.ProviderWoovi))

	s.engine.POST("/charges/pix", s.createPixCharge)
}

// Run starts the HTTP listener.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// webhook builds the shared webhook handler for one provider. The only
// non-200 response is for a body we could not read at all; everything past
// that point is acknowledged regardless of outcome.
func (s *Server) webhook(prov purchase.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}

		headers := make(map[string]string, len(c.Request.Header))
		for k := range c.Request.Header {
			headers[k] = c.GetHeader(k)
		}

		res := s.reconciler.Reconcile(c.Request.Context(), prov, body, headers)
		if res.Accepted && len(res.SideEffects) > 0 {
			s.dispatcher.Enqueue(res.SideEffects)
		}

		c.JSON(http.StatusOK, gin.H{"received": res.Accepted})
	}
}

type pixChargeRequest struct {
	PurchaseID  string  `json:"purchase_id"`
	ContentID   string  `json:"content_id"`
	BuyerID     *string `json:"buyer_id"`
	AmountCents int64   `json:"amount_cents"`
	Currency    string  `json:"currency"`
	Description *string `json:"description"`
}

type pixChargeResponse struct {
	PurchaseID string `json:"purchase_id"`
	PaymentID  string `json:"payment_id"`
	Status     string `json:"status"`
	QRCodeText string `json:"qr_code_text,omitempty"`
	QRCodePNG  []byte `json:"qr_code_png,omitempty"`
}

func (s *Server) createPixCharge(c *gin.Context) {
	var req pixChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	in := charge.Input{
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Provider:    purchase.ProviderWoovi,
		Description: req.Description,
	}

	if req.PurchaseID != "" {
		id, err := uuid.Parse(req.PurchaseID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid purchase_id"})
			return
		}
		in.PurchaseID = id
	} else {
		id, err := uuid.Parse(req.ContentID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid content_id"})
			return
		}
		in.ContentID = id
	}
	if req.BuyerID != nil {
		id, err := uuid.Parse(*req.BuyerID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid buyer_id"})
			return
		}
		in.BuyerID = &id
	}

	ch, err := s.charges.CreatePixCharge(c.Request.Context(), in)
	if err != nil {
		switch err {
		case charge.ErrInvalidAmount, charge.ErrInvalidCurrency:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case charge.ErrAlreadyPaid, charge.ErrNotPending:
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case purchase.ErrPurchaseNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			log.Printf("[Server] pix charge creation failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "charge creation failed"})
		}
		return
	}

	resp := pixChargeResponse{
		PurchaseID: ch.Purchase.ID.String(),
		PaymentID:  ch.Payment.ID.String(),
		Status:     string(ch.Payment.Status),
	}
	if ch.QR != nil {
		resp.QRCodeText = ch.QR.QRCodeText
		resp.QRCodePNG = ch.QR.PNG
	}
	c.JSON(http.StatusCreated, resp)
}
