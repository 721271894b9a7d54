package types

// ConsumerRequest is the body of PUT /consumer.
type ConsumerRequest struct {
	Consumer string `json:"consumer" binding:"required"`
	On       bool   `json:"on"`
}

// ChangeResponse reports whether a request changed any state.
type ChangeResponse struct {
	Changed bool `json:"changed"`
}
