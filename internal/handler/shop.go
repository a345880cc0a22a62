package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/huhuanshizhe/vetsphere/internal/llm"
	"github.com/huhuanshizhe/vetsphere/internal/model"
	"github.com/huhuanshizhe/vetsphere/internal/repository"
	"github.com/huhuanshizhe/vetsphere/internal/service"
)

type courseResponse struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
}

// GetCourses returns the course catalog.
func (h *Handler) GetCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.service.GetCourses(r.Context())
	if err != nil {
		h.logger.Error("get courses error", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	resp := make([]courseResponse, 0, len(courses))
	for _, c := range courses {
		resp = append(resp, courseResponse{
			ID:          c.ID,
			Title:       c.Title,
			Description: c.Description,
			Price:       float64(c.PriceCents) / 100,
			Currency:    c.Currency,
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type checkoutRequest struct {
	UserID    string   `json:"userId"`
	CourseIDs []string `json:"courseIds"`
}

// Checkout creates a pending order with unpaid enrollments.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	order, err := h.service.Checkout(r.Context(), req.UserID, req.CourseIDs)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request"})
		case errors.Is(err, repository.ErrCourseNotFound):
			h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "course not found"})
		default:
			h.logger.Error("checkout error", zap.Error(err), zap.String("userID", req.UserID))
			h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"orderId":  order.ID,
		"total":    order.Total(),
		"currency": order.Currency,
	})
}

type orderResponse struct {
	ID                string  `json:"id"`
	UserID            string  `json:"userId"`
	Total             float64 `json:"total"`
	Currency          string  `json:"currency"`
	Status            string  `json:"status"`
	Carrier           string  `json:"carrier,omitempty"`
	TrackingNumber    string  `json:"trackingNumber,omitempty"`
	EstimatedDelivery string  `json:"estimatedDelivery,omitempty"`
	CreatedAt         string  `json:"createdAt"`
}

func toOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:             o.ID,
		UserID:         o.UserID,
		Total:          o.Total(),
		Currency:       o.Currency,
		Status:         string(o.Status),
		Carrier:        o.Carrier,
		TrackingNumber: o.TrackingNumber,
		CreatedAt:      o.CreatedAt.Format(time.RFC3339),
	}
	if o.EstimatedDelivery != nil {
		resp.EstimatedDelivery = o.EstimatedDelivery.Format(time.RFC3339)
	}
	return resp
}

// GetOrder returns the order detail.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	order, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "order not found"})
			return
		}
		h.logger.Error("get order error", zap.Error(err), zap.String("orderID", orderID))
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type enrollmentResponse struct {
	OrderID       string `json:"orderId"`
	CourseID      string `json:"courseId"`
	PaymentStatus string `json:"paymentStatus"`
	CreatedAt     string `json:"createdAt"`
}

// GetEnrollments returns a user's enrollments.
func (h *Handler) GetEnrollments(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	enrollments, err := h.service.GetEnrollmentsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get enrollments error", zap.Error(err), zap.String("userID", userID))
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	resp := make([]enrollmentResponse, 0, len(enrollments))
	for _, e := range enrollments {
		resp = append(resp, enrollmentResponse{
			OrderID:       e.OrderID,
			CourseID:      e.CourseID,
			PaymentStatus: string(e.PaymentStatus),
			CreatedAt:     e.CreatedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type chatRequest struct {
	Messages []llm.Message `json:"messages"`
}

// Chat proxies a conversation to the assistant.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	reply, err := h.service.Chat(r.Context(), req.Messages)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotConfigured):
			h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "assistant not configured"})
		case errors.Is(err, service.ErrInvalidRequest):
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no messages provided"})
		default:
			h.logger.Error("chat error", zap.Error(err))
			h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "assistant unavailable"})
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

type adminLoginRequest struct {
	Token string `json:"token"`
}

// AdminLogin establishes an operator session when the configured admin token
// matches.
func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	if h.adminToken == "" || subtle.ConstantTimeCompare([]byte(req.Token), []byte(h.adminToken)) != 1 {
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid token"})
		return
	}

	h.adminAuth.SetSessionCookie(w, "admin")
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
