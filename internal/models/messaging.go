// Package models: messaging transport events.
package models

// MessageStatus is the delivery status carried by a transport receipt.
type MessageStatus string

const (
	StatusTypeSent      MessageStatus = "sent"
	StatusTypeDelivered MessageStatus = "delivered"
	StatusTypeRead      MessageStatus = "read"
)

// Receipt represents a delivery status event for an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response represents an incoming message from a patient via the transport.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}
