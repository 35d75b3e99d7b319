package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

type lineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

// orderRequest — тело POST /orders и PUT /orders/{id}.
type orderRequest struct {
	CashierID string        `json:"cashier_id"`
	Lines     []lineRequest `json:"lines"`
}

func (r orderRequest) requestedLines() []domain.RequestedLine {
	lines := make([]domain.RequestedLine, 0, len(r.Lines))
	for _, l := range r.Lines {
		lines = append(lines, domain.RequestedLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return lines
}

type lineItemResponse struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int32  `json:"quantity"`
	LineTotal   string `json:"line_total"`
}

type orderResponse struct {
	ID        string             `json:"id"`
	Code      string             `json:"code"`
	CashierID string             `json:"cashier_id"`
	Total     string             `json:"total"`
	Items     []lineItemResponse `json:"items,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type cashierResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type orderDetailResponse struct {
	orderResponse
	Cashier cashierResponse `json:"cashier"`
}

type updateResponse struct {
	Changed bool          `json:"changed"`
	Message string        `json:"message"`
	Order   orderResponse `json:"order"`
}

type orderListResponse struct {
	Orders      []orderResponse `json:"orders"`
	Total       int             `json:"total"`
	Page        int             `json:"page"`
	PageSize    int             `json:"page_size"`
	TotalPages  int             `json:"total_pages"`
	HasPrevious bool            `json:"has_previous"`
	HasNext     bool            `json:"has_next"`
}

type timelineEventResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type timelineResponse struct {
	OrderID string                  `json:"order_id"`
	Events  []timelineEventResponse `json:"events"`
}

type shortageResponse struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Requested   int64  `json:"requested"`
	Available   int64  `json:"available"`
}

type errorResponse struct {
	Error    string            `json:"error"`
	Kind     string            `json:"kind,omitempty"`
	Shortage *shortageResponse `json:"shortage,omitempty"`
}

func toOrderResponse(o domain.Order) orderResponse {
	resp := orderResponse{
		ID:        o.ID,
		Code:      o.Code,
		CashierID: o.CashierID,
		Total:     o.Total.StringFixed(2),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
	if len(o.Items) > 0 {
		resp.Items = make([]lineItemResponse, 0, len(o.Items))
		for _, item := range o.Items {
			resp.Items = append(resp.Items, lineItemResponse{
				ProductID:   item.ProductID,
				ProductName: item.ProductName,
				UnitPrice:   item.UnitPrice.StringFixed(2),
				Quantity:    item.Quantity,
				LineTotal:   item.LineTotal.StringFixed(2),
			})
		}
	}
	return resp
}

func toListResponse(page domain.OrderPage) orderListResponse {
	orders := make([]orderResponse, 0, len(page.Orders))
	for _, o := range page.Orders {
		orders = append(orders, toOrderResponse(o))
	}
	return orderListResponse{
		Orders:      orders,
		Total:       page.Total,
		Page:        page.PageNumber(),
		PageSize:    page.Limit,
		TotalPages:  page.TotalPages(),
		HasPrevious: page.HasPrevious(),
		HasNext:     page.HasNext(),
	}
}

func toTimelineResponse(orderID string, events []domain.TimelineEvent) timelineResponse {
	resp := timelineResponse{OrderID: orderID, Events: make([]timelineEventResponse, 0, len(events))}
	for _, ev := range events {
		resp.Events = append(resp.Events, timelineEventResponse{Type: ev.Type, Reason: ev.Reason, Occurred: ev.Occurred})
	}
	return resp
}
