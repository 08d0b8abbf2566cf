package terminal

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"smartparking/internal/geo"
	"smartparking/internal/models"
	"smartparking/internal/service"
	"smartparking/internal/ws"
)

// FormatAmount renders integer cents with two decimals and the currency code.
func FormatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	out := fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
	if currency != "" {
		out += " " + currency
	}
	return out
}

// RenderSession draws the session panel.
func RenderSession(st service.ViewState, fallbackCurrency string) string {
	currency := st.Currency
	if currency == "" {
		currency = fallbackCurrency
	}

	amount := mutedStyle.Render("--")
	if st.AmountKnown {
		amount = amountStyle.Render(FormatAmount(st.AmountCents, currency)) + " " + mutedStyle.Render(amountSource(st))
	}

	lines := []string{
		headerStyle.Render("Parking session " + st.SessionID),
		row("Amount", amount),
		row("Status", renderStatus(st)),
		row("Live", renderLive(st.Live, st.Finalized)),
	}
	if s := st.Session; s != nil {
		lot := s.LotName
		if lot == "" {
			lot = s.LotID
		}
		if lot != "" {
			lines = append(lines, row("Lot", lot))
		}
		if s.Plate != "" {
			lines = append(lines, row("Plate", s.Plate))
		}
		if !s.StartedAt.IsZero() {
			lines = append(lines, row("Started", s.StartedAt.Local().Format("2006-01-02 15:04")))
		}
		if s.EndedAt != nil {
			lines = append(lines, row("Ended", s.EndedAt.Local().Format("2006-01-02 15:04")))
		}
	}
	if st.PaymentURL != "" {
		lines = append(lines, row("Checkout", linkStyle.Render(st.PaymentURL)))
	}
	if st.PaymentOutstanding {
		lines = append(lines, mutedStyle.Render("Waiting for payment confirmation..."))
	}
	if st.Notice != nil {
		lines = append(lines, warnStyle.Render("! "+st.Notice.Error()))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func amountSource(st service.ViewState) string {
	switch {
	case st.Finalized:
		return "(final)"
	case st.AmountFromTick:
		return "(live)"
	default:
		return "(polled)"
	}
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func renderStatus(st service.ViewState) string {
	switch {
	case st.Paid:
		return paidStyle.Render("paid")
	case st.Finalized:
		return doneStyle.Render("completed, awaiting payment")
	case st.Status == models.SessionStatusActive:
		return activeStyle.Render("active")
	case st.Status == "":
		return mutedStyle.Render("loading")
	default:
		return string(st.Status)
	}
}

func renderLive(state ws.ConnState, finalized bool) string {
	switch {
	case finalized:
		return mutedStyle.Render("off")
	case state == ws.StateOpen:
		return activeStyle.Render("live")
	case state == ws.StateConnecting:
		return mutedStyle.Render("connecting")
	default:
		return warnStyle.Render("offline, refreshing periodically")
	}
}

// RenderLots draws the lot list, nearest first when distances are known.
func RenderLots(lots []geo.LotDistance, currency string) string {
	if len(lots) == 0 {
		return mutedStyle.Render("No parking lots found.")
	}
	lines := []string{headerStyle.Render("Parking lots")}
	for _, ld := range lots {
		distance := ""
		if ld.Meters >= 0 {
			distance = mutedStyle.Render(formatDistance(ld.Meters))
		}
		price := FormatAmount(int64(ld.Lot.PricePerHour*100+0.5), currency) + "/h"
		lines = append(lines, tableRowStyle.Render(fmt.Sprintf("%-14s %-24s %3d/%-3d %s", ld.Lot.ID, ld.Lot.Name, ld.Lot.Available, ld.Lot.Capacity, price))+" "+distance)
	}
	return strings.Join(lines, "\n")
}

func formatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%.0f m", meters)
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}

// RenderHistory draws past sessions.
func RenderHistory(sessions []models.Session, currency string) string {
	if len(sessions) == 0 {
		return mutedStyle.Render("No parking history yet.")
	}
	lines := []string{headerStyle.Render("Recent sessions")}
	for _, s := range sessions {
		cur := s.Currency
		if cur == "" {
			cur = currency
		}
		status := string(s.Status)
		if s.Paid() {
			status = "paid"
		}
		lines = append(lines, tableRowStyle.Render(fmt.Sprintf("%s  %-10s %-20s %12s  %s",
			s.StartedAt.Local().Format(time.DateOnly), s.Plate, s.LotName, FormatAmount(s.BilledCents(), cur), status)))
	}
	return strings.Join(lines, "\n")
}
