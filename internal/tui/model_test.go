package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenancy-rag/internal/models"
	"tenancy-rag/internal/rag"
)

type fakeSearcher struct {
	last rag.SearchRequest
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, req rag.SearchRequest) ([]rag.SearchResult, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return []rag.SearchResult{
		{Score: 0.9, ID: 1, Title: "Deposit Limit", Category: models.CategoryDepositsPayments, KeyRule: "Deposit max 3 months rent.", RiskLevel: models.RiskCaution},
		{Score: 0.4, ID: 2, Title: "Notice", Category: models.CategoryNoticePeriods, KeyRule: "Three months notice.", RiskLevel: models.RiskNormal},
	}, nil
}

func typeText(m tea.Model, s string) tea.Model {
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return m
}

// press sends a key and feeds back the message its command produces.
func press(t *testing.T, m tea.Model, key tea.KeyMsg) tea.Model {
	t.Helper()
	m, cmd := m.Update(key)
	if cmd != nil {
		if msg, ok := cmd().(resultsMsg); ok {
			m, _ = m.Update(msg)
		}
	}
	return m
}

func TestSearchFlow(t *testing.T) {
	s := &fakeSearcher{}
	var m tea.Model = New(s, "2 chunks", 3)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	m = typeText(m, "deposit")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	model := m.(Model)
	require.Len(t, model.results, 2)
	assert.Equal(t, "deposit", s.last.Query)
	assert.Equal(t, 3, s.last.Limit)
	assert.Contains(t, model.status, `2 results for "deposit"`)
	assert.Contains(t, model.View(), "Deposit Limit")

	m = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 1, m.(Model).cursor)
	m = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 0, m.(Model).cursor)
	m = press(t, m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 1, m.(Model).cursor)
}

func TestFilterCycling(t *testing.T) {
	s := &fakeSearcher{}
	var m tea.Model = New(s, "", 5)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	m = typeText(m, "rent")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Empty(t, s.last.Risk)

	m = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, "normal", s.last.Risk)
	m = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, "red flag", s.last.Risk)
	m = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, "", m.(Model).riskFilter())

	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlF})
	assert.Equal(t, string(models.CategoryContractBasics), s.last.Category)
	assert.Contains(t, m.View(), "category: Contract Basics")
}

func TestSearchError(t *testing.T) {
	var m tea.Model = New(&fakeSearcher{err: errors.New("index offline")}, "", 5)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	m = typeText(m, "deposit")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, "Error: index offline", m.(Model).status)
	assert.Empty(t, m.(Model).results)
}

func TestHighlightBestSentence(t *testing.T) {
	out := highlightBestSentence("Rent is due monthly. The deposit is capped.", "deposit cap")
	assert.Contains(t, out, "Rent is due monthly.")
	assert.Contains(t, out, "The deposit is capped.")
	assert.Equal(t, "plain", highlightBestSentence("plain", ""))
}
