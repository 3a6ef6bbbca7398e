package messaging

import (
	"fmt"
	"html"
	"strings"

	"github.com/garagedesk/notify/internal/models"
)

const appointmentTimeLayout = "Monday, 2 January 2006 at 15:04"

func greeting(contact models.UserContactInfo) string {
	name := strings.TrimSpace(contact.Name)
	if name == "" {
		return "Hi"
	}
	return "Hi " + name
}

// chatBody renders the full-length conversational body used by WhatsApp.
func chatBody(n models.Notification, contact models.UserContactInfo) (string, error) {
	switch n.Kind {
	case models.KindAppointmentConfirmation:
		body := fmt.Sprintf("%s, your %s appointment is confirmed for %s.",
			greeting(contact), n.ServiceName, n.AppointmentTime.Format(appointmentTimeLayout))
		if n.LocationName != "" {
			body += fmt.Sprintf(" See you at %s.", n.LocationName)
		}
		if n.VehicleDesc != "" {
			body += fmt.Sprintf(" Vehicle: %s.", n.VehicleDesc)
		}
		return body, nil
	case models.KindStatusUpdate:
		subject := "your vehicle"
		if n.VehicleDesc != "" {
			subject = "your " + n.VehicleDesc
		}
		body := fmt.Sprintf("%s, an update on %s: %s.", greeting(contact), subject, n.Status)
		if n.ServiceName != "" {
			body = fmt.Sprintf("%s, an update on %s (%s): %s.", greeting(contact), subject, n.ServiceName, n.Status)
		}
		return body, nil
	case models.KindBidResult:
		if n.BidAccepted {
			body := fmt.Sprintf("%s, good news! Your service bid was accepted.", greeting(contact))
			if n.BidAmount != "" {
				body += fmt.Sprintf(" Agreed price: %s.", n.BidAmount)
			}
			return body + " We'll be in touch to schedule your visit.", nil
		}
		return fmt.Sprintf("%s, unfortunately your service bid was not accepted this time. Feel free to submit a new request.", greeting(contact)), nil
	case models.KindPromotion:
		// Promo bodies arrive as complete copy (caller-written or
		// copywriter-personalized); no greeting is prepended here.
		if n.PromoTitle != "" {
			return fmt.Sprintf("%s\n\n%s", n.PromoTitle, n.PromoBody), nil
		}
		return n.PromoBody, nil
	case models.KindOTP:
		return fmt.Sprintf("Your verification code is %s. It expires in 10 minutes. Do not share it with anyone.", n.OTPCode), nil
	default:
		return "", models.ErrInvalidKind
	}
}

// smsBody renders the shorter body used by SMS, where length costs money.
func smsBody(n models.Notification, contact models.UserContactInfo) (string, error) {
	switch n.Kind {
	case models.KindAppointmentConfirmation:
		return fmt.Sprintf("%s appointment confirmed for %s.", n.ServiceName, n.AppointmentTime.Format("2 Jan 15:04")), nil
	case models.KindStatusUpdate:
		return fmt.Sprintf("Garage update: %s.", n.Status), nil
	case models.KindBidResult:
		if n.BidAccepted {
			return "Your service bid was accepted. We'll contact you to schedule.", nil
		}
		return "Your service bid was not accepted this time.", nil
	case models.KindPromotion:
		return n.PromoBody, nil
	case models.KindOTP:
		return fmt.Sprintf("Your verification code is %s. Expires in 10 minutes.", n.OTPCode), nil
	default:
		return "", models.ErrInvalidKind
	}
}

// emailContent renders subject, plain-text, and HTML bodies for email.
func emailContent(n models.Notification, contact models.UserContactInfo) (Content, error) {
	var subject string
	switch n.Kind {
	case models.KindAppointmentConfirmation:
		subject = fmt.Sprintf("Appointment confirmed: %s", n.ServiceName)
	case models.KindStatusUpdate:
		subject = "Update on your vehicle service"
	case models.KindBidResult:
		if n.BidAccepted {
			subject = "Your service bid was accepted"
		} else {
			subject = "Your service bid result"
		}
	case models.KindPromotion:
		subject = n.PromoTitle
		if subject == "" {
			subject = "An offer from your garage"
		}
	case models.KindOTP:
		subject = "Your verification code"
	default:
		return Content{}, models.ErrInvalidKind
	}

	body, err := chatBody(n, contact)
	if err != nil {
		return Content{}, err
	}
	return Content{
		Subject: subject,
		Body:    body,
		HTML:    fmt.Sprintf("<p>%s</p>", html.EscapeString(body)),
	}, nil
}
