// Package tui is an interactive terminal search over the knowledge base.
package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tenancy-rag/internal/models"
	"tenancy-rag/internal/rag"
)

// Searcher is the TUI-facing subset of the retriever.
type Searcher interface {
	Search(ctx context.Context, req rag.SearchRequest) ([]rag.SearchResult, error)
}

type resultsMsg struct {
	query   string
	results []rag.SearchResult
	err     error
}

// Model is the Bubble Tea model for the search screen.
type Model struct {
	searcher  Searcher
	limit     int
	input     textinput.Model
	viewport  viewport.Model
	results   []rag.SearchResult
	summary   string
	status    string
	cursor    int
	ready     bool
	lastQuery string
	riskIdx   int
	catIdx    int
}

func New(searcher Searcher, summary string, limit int) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about deposits, notice, repairs... and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	if limit < 1 {
		limit = 5
	}
	return Model{
		searcher: searcher,
		limit:    limit,
		input:    ti,
		viewport: viewport.New(0, 0),
		summary:  summary,
		status:   "Type to search. tab: risk filter, ctrl+f: category filter.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

// riskFilter and categoryFilter return "" for "all".
func (m Model) riskFilter() string {
	if m.riskIdx == 0 {
		return ""
	}
	return string(models.RiskLevels()[m.riskIdx-1])
}

func (m Model) categoryFilter() string {
	if m.catIdx == 0 {
		return ""
	}
	return string(models.Categories()[m.catIdx-1])
}

func (m Model) searchCmd(q string) tea.Cmd {
	req := rag.SearchRequest{Query: q, Limit: m.limit, Category: m.categoryFilter(), Risk: m.riskFilter()}
	searcher := m.searcher
	return func() tea.Msg {
		res, err := searcher.Search(context.Background(), req)
		return resultsMsg{query: q, results: res, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 3 + 1 + qh + 1 // header, summary, filters; status; spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case resultsMsg:
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.results = nil
		} else {
			m.status = fmt.Sprintf("%d results for %q", len(msg.results), msg.query)
			m.results = msg.results
			m.cursor = 0
			m.lastQuery = msg.query
		}
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			if q := strings.TrimSpace(m.input.Value()); q != "" {
				m.status = "Searching..."
				return m, m.searchCmd(q)
			}
		case "tab":
			m.riskIdx = (m.riskIdx + 1) % (len(models.RiskLevels()) + 1)
			return m, m.refresh()
		case "ctrl+f":
			m.catIdx = (m.catIdx + 1) % (len(models.Categories()) + 1)
			return m, m.refresh()
		case "down":
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		case "up":
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// refresh re-runs the last query after a filter change.
func (m Model) refresh() tea.Cmd {
	if m.lastQuery == "" {
		return nil
	}
	return m.searchCmd(m.lastQuery)
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Tenancy Law Search")
	summary := dimStyle.Render(m.summary)
	filters := dimStyle.Render(fmt.Sprintf("risk: %s   category: %s", orAll(m.riskFilter()), orAll(m.categoryFilter())))
	results := resultBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + summary + "\n" + filters + "\n" + results + "\n" + input + "\n" + status
}

func orAll(s string) string {
	if s == "" {
		return "all"
	}
	return s
}

func (m Model) renderCurrentResult() string {
	if len(m.results) == 0 {
		return "No results yet."
	}
	r := m.results[m.cursor]
	title := fmt.Sprintf("Result %d/%d  score=%.3f  #%d", m.cursor+1, len(m.results), r.Score, r.ID)
	var b strings.Builder
	b.WriteString(title + "\n\n")
	b.WriteString(lipgloss.NewStyle().Bold(true).Render(r.Title) + "\n")
	b.WriteString(dimStyle.Render(string(r.Category)) + "  " + riskStyle(r.RiskLevel).Render(string(r.RiskLevel)) + "\n\n")
	b.WriteString(highlightBestSentence(r.KeyRule, m.lastQuery) + "\n\n")
	if r.ExpatImplication != "" {
		b.WriteString(r.ExpatImplication + "\n\n")
	}
	b.WriteString(dimStyle.Render("source: " + r.SourceDocument))
	return b.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

func riskStyle(r models.RiskLevel) lipgloss.Style {
	switch r {
	case models.RiskRedFlag:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	case models.RiskCaution:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	}
}

func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	seen := map[string]struct{}{}
	for _, t := range unicodeWordRe.FindAllString(strings.ToLower(sentence), -1) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
