package services

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/costume-atelier/atelier-api/models"
	"github.com/costume-atelier/atelier-api/workflow"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Templates that are not tied to a status transition
const (
	NotifyReceived = "order_received"
	NotifyQuote    = "quote_sent"
	NotifyReceipt  = "payment_receipt"
)

// EmailData is the data available to every email template
type EmailData struct {
	Name          string
	OrderNumber   string
	Amount        string
	Reference     string
	InvoiceNumber string
	Final         bool
}

type emailTemplate struct {
	subject *template.Template
	body    *template.Template
}

func mustTemplate(name, subject, body string) emailTemplate {
	return emailTemplate{
		subject: template.Must(template.New(name + ".subject").Parse(subject)),
		body:    template.Must(template.New(name + ".body").Parse(body)),
	}
}

var emailTemplates = map[string]emailTemplate{
	NotifyReceived: mustTemplate(NotifyReceived,
		"We received your order {{.OrderNumber}}",
		"Hi {{.Name}},\n\nThanks for your custom costume request. Your order number is {{.OrderNumber}}. "+
			"Our team will review the design and reply with a quote in your order chat.\n"),
	workflow.NotifyApproved: mustTemplate(workflow.NotifyApproved,
		"Order {{.OrderNumber}} approved",
		"Hi {{.Name}},\n\nGood news: order {{.OrderNumber}} has been approved and is scheduled for production.\n"),
	workflow.NotifyDeclined: mustTemplate(workflow.NotifyDeclined,
		"Order {{.OrderNumber}} declined",
		"Hi {{.Name}},\n\nUnfortunately we are unable to take on order {{.OrderNumber}}. "+
			"Reply to this email if you would like to discuss alternatives.\n"),
	workflow.NotifyCancelled: mustTemplate(workflow.NotifyCancelled,
		"Order {{.OrderNumber}} cancelled",
		"Hi {{.Name}},\n\nOrder {{.OrderNumber}} has been cancelled.\n"),
	workflow.NotifyDispatched: mustTemplate(workflow.NotifyDispatched,
		"Order {{.OrderNumber}} is on its way",
		"Hi {{.Name}},\n\nOrder {{.OrderNumber}} has left our workshop and is with our delivery team.\n"),
	workflow.NotifyCompleted: mustTemplate(workflow.NotifyCompleted,
		"Order {{.OrderNumber}} completed",
		"Hi {{.Name}},\n\nOrder {{.OrderNumber}} is complete. We would love to hear your review.\n"),
	NotifyQuote: mustTemplate(NotifyQuote,
		"{{if .Final}}Final price{{else}}New quote{{end}} for order {{.OrderNumber}}",
		"Hi {{.Name}},\n\nWe have {{if .Final}}set the final price{{else}}sent a quote{{end}} for order {{.OrderNumber}}: "+
			"{{.Amount}} including VAT. Open your order chat to respond.\n"),
	NotifyReceipt: mustTemplate(NotifyReceipt,
		"Payment received for order {{.OrderNumber}}",
		"Hi {{.Name}},\n\nWe received your payment of {{.Amount}} (reference {{.Reference}}). "+
			"Your invoice number is {{.InvoiceNumber}}.\n"),
}

// RenderEmail renders the subject and body of a named template
func RenderEmail(name string, data EmailData) (string, string, error) {
	tmpl, ok := emailTemplates[name]
	if !ok {
		return "", "", fmt.Errorf("unknown email template %q", name)
	}

	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := tmpl.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", name, err)
	}
	return subject.String(), body.String(), nil
}

// Enqueue writes a pending notification using tx, so it commits or rolls back
// together with the change that caused it
func Enqueue(tx *gorm.DB, name, recipient string, orderID *uuid.UUID, data EmailData) (*models.Notification, error) {
	subject, body, err := RenderEmail(name, data)
	if err != nil {
		return nil, err
	}

	notification := models.Notification{
		OrderID:   orderID,
		Template:  name,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		Status:    models.NotificationPending,
	}
	if err := tx.Create(&notification).Error; err != nil {
		return nil, fmt.Errorf("enqueue %s notification: %w", name, err)
	}
	return &notification, nil
}

// EnqueueOrderEmail enqueues a template addressed to the order's customer
func EnqueueOrderEmail(tx *gorm.DB, name string, order *models.Order, data EmailData) error {
	data.Name = order.FullName
	data.OrderNumber = order.OrderNumber
	orderID := order.ID
	_, err := Enqueue(tx, name, order.Email, &orderID, data)
	return err
}
