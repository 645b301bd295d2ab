package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"gosuda.org/walletconnect/walletconnect"
	"gosuda.org/walletconnect/walletconnect/core/wcproto"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Width(12)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

func row(label string, value any) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), valueStyle.Render(fmt.Sprint(value)))
}

func renderPairing(uri string) string {
	body := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Scan or paste this URI into your wallet"),
		"",
		valueStyle.Render(uri),
	)
	return boxStyle.Render(body)
}

func renderSession(title string, data *walletconnect.SessionData) string {
	lines := []string{titleStyle.Render(title)}
	if data == nil {
		lines = append(lines, warnStyle.Render("no session"))
		return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	}
	wallet := data.PeerID
	if data.PeerMeta != nil && data.PeerMeta.Name != "" {
		wallet = data.PeerMeta.Name
	}
	lines = append(lines,
		row("Wallet", wallet),
		row("Chain", data.ChainID),
		row("Accounts", strings.Join(data.Accounts, "\n")),
	)
	if data.RPCURL != "" {
		lines = append(lines, row("RPC", data.RPCURL))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderSaved(saved *wcproto.SavedSession, location string) string {
	lines := []string{titleStyle.Render("Saved session")}
	if saved == nil {
		lines = append(lines, warnStyle.Render("nothing saved"), row("Store", location))
		return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	}

	status := warnStyle.Render("pairing")
	if saved.Connected {
		status = okStyle.Render("connected")
	}
	wallet := saved.PeerID
	if saved.PeerMeta != nil && saved.PeerMeta.Name != "" {
		wallet = saved.PeerMeta.Name
	}
	lines = append(lines,
		row("Status", status),
		row("Bridge", saved.BridgeURL),
		row("Client", saved.ClientID),
		row("Wallet", wallet),
		row("Chain", saved.ChainID),
		row("Accounts", strings.Join(saved.Accounts, "\n")),
		row("Store", location),
	)
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderResult(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, okStyle.Render("✓ "), labelStyle.Render(label), valueStyle.Render(value))
}
