package tickets

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
)

// Ticket is the printable content of a confirmed booking.
type Ticket struct {
	BookingID   string
	Reference   string
	HolderName  string
	HolderEmail string
	EventTitle  string
	Location    string
	StartsAt    time.Time
	EndsAt      time.Time
	ConfirmedAt *time.Time
	VerifyURL   string
	IssuedAt    time.Time
}

// RenderPDF lays out a single A4 ticket.
func RenderPDF(t Ticket) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetTitle("Ticket "+t.Reference, true)
	pdf.SetCreator("eventbook", false)
	if !t.IssuedAt.IsZero() {
		pdf.SetCreationDate(t.IssuedAt)
		pdf.SetModificationDate(t.IssuedAt)
	}
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	pdf.SetDrawColor(40, 40, 40)
	pdf.SetLineWidth(0.6)
	pdf.Rect(15, 15, 180, 130, "D")

	pdf.SetFont("Helvetica", "B", 22)
	pdf.CellFormat(0, 12, tr(t.EventTitle), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", 12)
	row := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(40, 8, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 8, tr(value), "", "L", false)
	}

	row("Holder", holder(t))
	row("Location", t.Location)
	row("Starts", t.StartsAt.UTC().Format("Mon 2 Jan 2006 15:04 MST"))
	row("Ends", t.EndsAt.UTC().Format("Mon 2 Jan 2006 15:04 MST"))
	if t.ConfirmedAt != nil {
		row("Confirmed", t.ConfirmedAt.UTC().Format(time.RFC3339))
	}

	pdf.Ln(6)
	pdf.SetFont("Courier", "B", 16)
	pdf.CellFormat(0, 10, "REF "+t.Reference, "1", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 9)
	pdf.MultiCell(0, 5, "Booking "+t.BookingID, "", "L", false)
	if t.VerifyURL != "" {
		pdf.MultiCell(0, 5, "Verify at "+t.VerifyURL, "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render ticket: %w", err)
	}
	return buf.Bytes(), nil
}

func holder(t Ticket) string {
	switch {
	case t.HolderName != "" && t.HolderEmail != "":
		return fmt.Sprintf("%s <%s>", t.HolderName, t.HolderEmail)
	case t.HolderName != "":
		return t.HolderName
	default:
		return t.HolderEmail
	}
}
