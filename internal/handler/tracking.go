package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/huhuanshizhe/vetsphere/internal/repository"
	"github.com/huhuanshizhe/vetsphere/internal/service"
)

type trackingEventResponse struct {
	Status      string `json:"status"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
}

type trackingInfoResponse struct {
	OrderID           string                  `json:"orderId"`
	Status            string                  `json:"status"`
	Carrier           string                  `json:"carrier,omitempty"`
	TrackingNumber    string                  `json:"trackingNumber,omitempty"`
	EstimatedDelivery string                  `json:"estimatedDelivery,omitempty"`
	Events            []trackingEventResponse `json:"events"`
}

// GetTracking returns the shipment timeline of an order, newest first.
func (h *Handler) GetTracking(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	info, err := h.service.GetTracking(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "order not found"})
			return
		}
		h.logger.Error("get tracking error", zap.Error(err), zap.String("orderID", orderID))
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	resp := trackingInfoResponse{
		OrderID:        info.OrderID,
		Status:         string(info.Status),
		Carrier:        info.Carrier,
		TrackingNumber: info.TrackingNumber,
		Events:         make([]trackingEventResponse, 0, len(info.Events)),
	}
	if info.EstimatedDelivery != nil {
		resp.EstimatedDelivery = info.EstimatedDelivery.Format(time.RFC3339)
	}
	for _, ev := range info.Events {
		resp.Events = append(resp.Events, trackingEventResponse{
			Status:      ev.Status,
			Location:    ev.Location,
			Description: ev.Description,
			Timestamp:   ev.CreatedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type addTrackingRequest struct {
	Status            string `json:"status"`
	Location          string `json:"location"`
	Description       string `json:"description"`
	TrackingNumber    string `json:"trackingNumber"`
	Carrier           string `json:"carrier"`
	EstimatedDelivery string `json:"estimatedDelivery"`
}

// AddTracking appends an operator-supplied tracking event to an order.
func (h *Handler) AddTracking(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var req addTrackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	params := service.TrackingEventParams{
		Status:      req.Status,
		Location:    req.Location,
		Description: req.Description,
	}
	if req.Carrier != "" {
		params.Carrier = &req.Carrier
	}
	if req.TrackingNumber != "" {
		params.TrackingNumber = &req.TrackingNumber
	}
	if req.EstimatedDelivery != "" {
		est, err := time.Parse(time.RFC3339, req.EstimatedDelivery)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid estimatedDelivery", Details: "expected RFC3339 timestamp"})
			return
		}
		params.EstimatedDelivery = &est
	}

	if err := h.service.AddTrackingEvent(r.Context(), orderID, params); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request"})
		case errors.Is(err, repository.ErrOrderNotFound):
			h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "order not found"})
		default:
			h.logger.Error("add tracking error", zap.Error(err), zap.String("orderID", orderID))
			h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
