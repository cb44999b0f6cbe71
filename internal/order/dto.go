package order

// UpdateStatusRequest payload of an admin status change.
// swagger:model UpdateStatusRequest
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required" example:"shipped"`
}

// UpdateStatusResponse acknowledges a status change.
// swagger:model UpdateStatusResponse
type UpdateStatusResponse struct {
	Success bool   `json:"success" example:"true"`
	Status  Status `json:"status"  example:"shipped"`
}
