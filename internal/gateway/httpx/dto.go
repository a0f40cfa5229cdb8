package httpx

type CreateOrderRequest struct {
	CustomerID string               `json:"customer_id" validate:"required"`
	Items      []CreateOrderItemDTO `json:"items" validate:"required,min=1,dive"`
}

type CreateOrderItemDTO struct {
	ProductID string  `json:"product_id" validate:"required"`
	Quantity  int     `json:"quantity" validate:"gt=0"`
	Price     float64 `json:"price" validate:"gt=0"`
}

type CreateOrderResponse struct {
	OrderID string `json:"order_id"`
	SagaID  string `json:"saga_id"`
	Status  string `json:"status"`
}

type OrderResponse struct {
	ID         string              `json:"id"`
	CustomerID string              `json:"customer_id"`
	Status     string              `json:"status"`
	Total      float64             `json:"total"`
	Items      []OrderItemResponse `json:"items"`
	CreatedAt  string              `json:"created_at"`
	UpdatedAt  string              `json:"updated_at"`
}

type OrderItemResponse struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type SagaResponse struct {
	SagaID             string `json:"saga_id"`
	OrderID            string `json:"order_id"`
	CustomerID         string `json:"customer_id"`
	Status             string `json:"status"`
	ReservationID      string `json:"reservation_id,omitempty"`
	PaymentID          string `json:"payment_id,omitempty"`
	StartedAt          string `json:"started_at"`
	CompletedAt        string `json:"completed_at,omitempty"`
	Error              string `json:"error,omitempty"`
	CompensationReason string `json:"compensation_reason,omitempty"`
}

type SagaListResponse struct {
	Sagas []SagaResponse `json:"sagas"`
}

type SagaLogResponse struct {
	Status        string `json:"status"`
	Step          string `json:"step"`
	ErrorMessages string `json:"error_messages"`
	TraceID       string `json:"trace_id,omitempty"`
	UpdatedAt     string `json:"updated_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
