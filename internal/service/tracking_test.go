package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/huhuanshizhe/vetsphere/internal/model"
	"github.com/huhuanshizhe/vetsphere/internal/notify"
	"github.com/huhuanshizhe/vetsphere/internal/repository"
)

func TestGetTracking_SyntheticTimeline(t *testing.T) {
	tests := []struct {
		status     model.OrderStatus
		wantSteps  []string
	}{
		{model.OrderStatusPending, []string{trackingStepPlaced}},
		{model.OrderStatusPaid, []string{trackingStepConfirmed, trackingStepPlaced}},
		{model.OrderStatusRefunded, []string{trackingStepConfirmed, trackingStepPlaced}},
		{model.OrderStatusShipped, []string{trackingStepShipped, trackingStepConfirmed, trackingStepPlaced}},
		{model.OrderStatusCompleted, []string{trackingStepDelivered, trackingStepShipped, trackingStepConfirmed, trackingStepPlaced}},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			repo := newStubRepo()
			order := pendingOrder("ord_1", 19900)
			order.Status = tt.status
			repo.orders["ord_1"] = order
			svc := newTestService(repo, Deps{})

			info, err := svc.GetTracking(context.Background(), "ord_1")
			if err != nil {
				t.Fatalf("GetTracking error: %v", err)
			}
			if len(info.Events) != len(tt.wantSteps) {
				t.Fatalf("got %d events, want %d", len(info.Events), len(tt.wantSteps))
			}
			for i, want := range tt.wantSteps {
				if info.Events[i].Status != want {
					t.Errorf("event[%d] = %q, want %q", i, info.Events[i].Status, want)
				}
			}
			// Newest first.
			for i := 1; i < len(info.Events); i++ {
				if info.Events[i].CreatedAt.After(info.Events[i-1].CreatedAt) {
					t.Errorf("events not ordered newest first at index %d", i)
				}
			}
		})
	}
}

func TestGetTracking_RealEventsWin(t *testing.T) {
	repo := newStubRepo()
	order := pendingOrder("ord_1", 19900)
	order.Status = model.OrderStatusShipped
	order.Carrier = "DHL"
	order.TrackingNumber = "JD0123456789"
	repo.orders["ord_1"] = order
	repo.trackingEvents = []model.TrackingEvent{
		{OrderID: "ord_1", Status: "in_transit", Location: "Leipzig Hub", Description: "Departed facility"},
	}
	svc := newTestService(repo, Deps{})

	info, err := svc.GetTracking(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("GetTracking error: %v", err)
	}
	if len(info.Events) != 1 || info.Events[0].Location != "Leipzig Hub" {
		t.Fatalf("synthetic timeline used despite recorded events: %+v", info.Events)
	}
	if info.Carrier != "DHL" || info.TrackingNumber != "JD0123456789" {
		t.Fatalf("shipment fields not surfaced: %+v", info)
	}
}

func TestGetTracking_UnknownOrder(t *testing.T) {
	svc := newTestService(newStubRepo(), Deps{})

	if _, err := svc.GetTracking(context.Background(), "ord_missing"); !errors.Is(err, repository.ErrOrderNotFound) {
		t.Fatalf("error = %v, want ErrOrderNotFound", err)
	}
}

func TestAddTrackingEvent_DerivesStatus(t *testing.T) {
	tests := []struct {
		name           string
		current        model.OrderStatus
		trackingStatus string
		want           model.OrderStatus
	}{
		{"delivered completes", model.OrderStatusShipped, "delivered", model.OrderStatusCompleted},
		{"shipped ships", model.OrderStatusPaid, "shipped", model.OrderStatusShipped},
		{"in_transit ships", model.OrderStatusPaid, "in_transit", model.OrderStatusShipped},
		{"out_for_delivery ships", model.OrderStatusPaid, "out_for_delivery", model.OrderStatusShipped},
		{"unknown keyword keeps status", model.OrderStatusPaid, "customs_hold", model.OrderStatusPaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newStubRepo()
			order := pendingOrder("ord_1", 19900)
			order.Status = tt.current
			repo.orders["ord_1"] = order
			svc := newTestService(repo, Deps{})

			err := svc.AddTrackingEvent(context.Background(), "ord_1", TrackingEventParams{
				Status:      tt.trackingStatus,
				Description: "Carrier update",
			})
			if err != nil {
				t.Fatalf("AddTrackingEvent error: %v", err)
			}
			if repo.shipmentStatus != tt.want {
				t.Fatalf("derived status = %q, want %q", repo.shipmentStatus, tt.want)
			}
			if len(repo.addedEvents) != 1 || repo.addedEvents[0].Status != tt.trackingStatus {
				t.Fatalf("event not recorded: %+v", repo.addedEvents)
			}
		})
	}
}

func TestAddTrackingEvent_ShipmentFields(t *testing.T) {
	repo := newStubRepo()
	order := pendingOrder("ord_1", 19900)
	order.Status = model.OrderStatusPaid
	repo.orders["ord_1"] = order
	svc := newTestService(repo, Deps{})

	carrier := "FedEx"
	eta := time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC)
	err := svc.AddTrackingEvent(context.Background(), "ord_1", TrackingEventParams{
		Status:            "shipped",
		Description:       "Handed to carrier",
		Carrier:           &carrier,
		EstimatedDelivery: &eta,
	})
	if err != nil {
		t.Fatalf("AddTrackingEvent error: %v", err)
	}
	if repo.shipmentCarrier == nil || *repo.shipmentCarrier != "FedEx" {
		t.Fatalf("carrier not passed through: %v", repo.shipmentCarrier)
	}
}

func TestAddTrackingEvent_InvalidRequest(t *testing.T) {
	repo := newStubRepo()
	repo.orders["ord_1"] = pendingOrder("ord_1", 19900)
	svc := newTestService(repo, Deps{})

	cases := []TrackingEventParams{
		{Status: "", Description: "no status"},
		{Status: "shipped", Description: ""},
	}
	for _, p := range cases {
		if err := svc.AddTrackingEvent(context.Background(), "ord_1", p); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("params %+v: error = %v, want ErrInvalidRequest", p, err)
		}
	}

	if err := svc.AddTrackingEvent(context.Background(), "ord_missing", TrackingEventParams{Status: "shipped", Description: "x"}); !errors.Is(err, repository.ErrOrderNotFound) {
		t.Fatalf("unknown order: error = %v, want ErrOrderNotFound", err)
	}
}

func TestAddTrackingEvent_PublishesOnStatusChange(t *testing.T) {
	repo := newStubRepo()
	order := pendingOrder("ord_1", 19900)
	order.Status = model.OrderStatusPaid
	repo.orders["ord_1"] = order

	broker := notify.NewBroker(zap.NewNop())
	svc := newTestService(repo, Deps{Broker: broker})

	events, cancel := broker.Subscribe()
	defer cancel()

	if err := svc.AddTrackingEvent(context.Background(), "ord_1", TrackingEventParams{
		Status:      "shipped",
		Description: "Handed to carrier",
	}); err != nil {
		t.Fatalf("AddTrackingEvent error: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Status != model.OrderStatusShipped {
			t.Fatalf("event status = %q, want shipped", ev.Status)
		}
	case <-time.After(time.Second):
		t.Fatalf("no order event published")
	}
}
