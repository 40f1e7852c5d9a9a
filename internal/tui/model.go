package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"curioqueries/internal/domain"
)

// EmptyQuestionWarning is shown when Enter is pressed on a blank question.
const EmptyQuestionWarning = "This column can not be empty. Please write your question in the question field."

// QAPort is the TUI-facing subset of the QA service.
type QAPort interface {
	Load(ctx context.Context, paths []string) ([]domain.Document, string, error)
	Ask(ctx context.Context, docs []domain.Document, question string, topK int) ([]domain.Answer, error)
}

type page int

const (
	pageHome page = iota
	pageAsk
)

var pageNames = []string{"Home", "Ask"}

type focus int

const (
	focusFiles focus = iota
	focusQuestion
)

type loadedMsg struct {
	docs    []domain.Document
	summary string
	err     error
}

type answersMsg struct {
	question string
	answers  []domain.Answer
	err      error
}

// Options configures the TUI.
type Options struct {
	// TopK is passed to Ask; zero uses the service default.
	TopK int
	// Files are loaded as soon as the program starts.
	Files []string
	// Formats lists supported extensions for the home page.
	Formats []string
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	ctx       context.Context
	service   QAPort
	opts      Options
	page      page
	focus     focus
	files     textinput.Model
	question  textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	busy      bool
	docs      []domain.Document
	summary   string
	answers   []domain.Answer
	cursor    int
	lastQuery string
	status    string
	warning   string
	home      string
	width     int
	ready     bool
}

// New creates a new TUI model instance. With preloaded files the Ask page opens first.
func New(ctx context.Context, service QAPort, opts Options) Model {
	files := textinput.New()
	files.Prompt = "files> "
	files.Placeholder = "report.docx, notes/*.md (Enter to upload)"
	files.CharLimit = 0
	files.SetValue(strings.Join(opts.Files, ", "))

	question := textinput.New()
	question.Prompt = "question> "
	question.Placeholder = "Enter your question"
	question.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		ctx:      ctx,
		service:  service,
		opts:     opts,
		files:    files,
		question: question,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		status:   "Upload a document to get started.",
	}
	if len(opts.Files) > 0 {
		m.page = pageAsk
		m.setFocus(focusQuestion)
	} else {
		m.setFocus(focusFiles)
	}
	return m
}

// Init starts the cursor blink and loads preselected files.
func (m Model) Init() tea.Cmd {
	if len(m.opts.Files) > 0 {
		return tea.Batch(textinput.Blink, m.loadCmd(m.opts.Files))
	}
	return textinput.Blink
}

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		// header, tabs, docs line, summary, two inputs, status, spacer
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 6 + 2*qh + 1
		m.viewport.Width = max(20, msg.Width-4)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.home = renderHome(m.opts.Formats, msg.Width)
		m.viewport.SetContent(m.renderCurrentAnswer())
		return m, nil

	case loadedMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		m.docs = msg.docs
		m.summary = msg.summary
		m.answers = nil
		m.cursor = 0
		m.status = fmt.Sprintf("Loaded %d document(s). Ask away.", len(msg.docs))
		m.setFocus(focusQuestion)
		m.viewport.SetContent(m.renderCurrentAnswer())
		return m, nil

	case answersMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.answers = nil
		} else {
			m.answers = msg.answers
			m.cursor = 0
			m.lastQuery = msg.question
			if len(msg.answers) == 0 {
				m.status = fmt.Sprintf("No answer found for %q", msg.question)
			} else {
				m.status = fmt.Sprintf("%d answer(s) for %q", len(msg.answers), msg.question)
			}
		}
		m.viewport.SetContent(m.renderCurrentAnswer())
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "tab":
			m.page = (m.page + 1) % page(len(pageNames))
			return m, nil
		}
		if m.page != pageAsk {
			return m, nil
		}
		switch msg.String() {
		case "shift+tab":
			if m.focus == focusFiles {
				m.setFocus(focusQuestion)
			} else {
				m.setFocus(focusFiles)
			}
			return m, nil
		case "enter":
			if m.busy {
				return m, nil
			}
			if m.focus == focusFiles {
				return m.submitFiles()
			}
			return m.submitQuestion()
		case "down":
			if len(m.answers) > 0 {
				m.cursor = (m.cursor + 1) % len(m.answers)
				m.viewport.SetContent(m.renderCurrentAnswer())
				return m, nil
			}
		case "up":
			if len(m.answers) > 0 {
				m.cursor = (m.cursor - 1 + len(m.answers)) % len(m.answers)
				m.viewport.SetContent(m.renderCurrentAnswer())
				return m, nil
			}
		case "pgdown", "pgup":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	if m.focus == focusFiles {
		m.files, cmd = m.files.Update(msg)
	} else {
		m.question, cmd = m.question.Update(msg)
		if strings.TrimSpace(m.question.Value()) != "" {
			m.warning = ""
		}
	}
	return m, cmd
}

func (m Model) submitFiles() (tea.Model, tea.Cmd) {
	paths := splitPaths(m.files.Value())
	if len(paths) == 0 {
		m.status = "Enter at least one file path."
		return m, nil
	}
	m.busy = true
	m.status = "Reading documents..."
	return m, tea.Batch(m.spinner.Tick, m.loadCmd(paths))
}

func (m Model) submitQuestion() (tea.Model, tea.Cmd) {
	q := strings.TrimSpace(m.question.Value())
	if q == "" {
		m.warning = EmptyQuestionWarning
		return m, nil
	}
	m.warning = ""
	if len(m.docs) == 0 {
		m.status = "Upload a document before asking."
		m.setFocus(focusFiles)
		return m, nil
	}
	m.busy = true
	m.status = fmt.Sprintf("Searching %d document(s)...", len(m.docs))
	return m, tea.Batch(m.spinner.Tick, m.askCmd(q))
}

func (m Model) loadCmd(paths []string) tea.Cmd {
	return func() tea.Msg {
		docs, summary, err := m.service.Load(m.ctx, paths)
		return loadedMsg{docs: docs, summary: summary, err: err}
	}
}

func (m Model) askCmd(question string) tea.Cmd {
	docs := m.docs
	return func() tea.Msg {
		answers, err := m.service.Ask(m.ctx, docs, question, m.opts.TopK)
		return answersMsg{question: question, answers: answers, err: err}
	}
}

func (m *Model) setFocus(f focus) {
	m.focus = f
	if f == focusFiles {
		m.question.Blur()
		m.files.Focus()
	} else {
		m.files.Blur()
		m.question.Focus()
	}
}

// View renders the TUI layout and current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Welcome to CurioQueries"))
	sb.WriteString("\n")
	sb.WriteString(m.renderTabs())
	sb.WriteString("\n")
	if m.page == pageHome {
		sb.WriteString(m.home)
		return sb.String()
	}

	sb.WriteString(lipgloss.NewStyle().Bold(true).Render("Ask Your Question"))
	sb.WriteString("\n")
	sb.WriteString(mutedStyle.Render(m.describeDocs()))
	sb.WriteString("\n")
	if m.summary != "" {
		sb.WriteString(mutedStyle.Width(max(20, m.width-2)).Render(m.summary))
		sb.WriteString("\n")
	}
	sb.WriteString(resultBoxStyle.Render(m.viewport.View()))
	sb.WriteString("\n")
	sb.WriteString(queryBoxStyle.Render(m.files.View()))
	sb.WriteString("\n")
	sb.WriteString(queryBoxStyle.Render(m.question.View()))
	sb.WriteString("\n")
	if m.warning != "" {
		sb.WriteString(warningStyle.Render(m.warning))
		sb.WriteString("\n")
	}
	status := m.status
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	sb.WriteString(statusStyle.Render(status))
	return sb.String()
}

func (m Model) renderTabs() string {
	tabs := make([]string, len(pageNames))
	for i, name := range pageNames {
		if page(i) == m.page {
			tabs[i] = activeTabStyle.Render(name)
		} else {
			tabs[i] = tabStyle.Render(name)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...) + mutedStyle.Render("  tab: switch page")
}

func (m Model) describeDocs() string {
	if len(m.docs) == 0 {
		return "No documents uploaded."
	}
	names := make([]string, len(m.docs))
	for i, d := range m.docs {
		names[i] = d.Name
	}
	return "Documents: " + strings.Join(names, ", ")
}

func (m Model) renderCurrentAnswer() string {
	if len(m.answers) == 0 {
		return "No answers yet. shift+tab switches between the files and question fields."
	}
	a := m.answers[m.cursor]
	title := fmt.Sprintf("Answer %d/%d  score=%.3f  %s (chunk %d)", m.cursor+1, len(m.answers), a.Score, a.DocumentName, a.ChunkIndex+1)
	answer := "Answer: " + highlightStyle.Render(a.Text)
	return title + "\n\n" + answer + "\n\n" + highlightSpan(a)
}

// highlightSpan renders the answer's context with the answer itself emphasised.
func highlightSpan(a domain.Answer) string {
	start, end := a.Start-a.ContextStart, a.End-a.ContextStart
	ctx := a.Context
	if start < 0 || end > len(ctx) || start >= end {
		return strings.TrimSpace(ctx)
	}
	return ctx[:start] + highlightStyle.Render(ctx[start:end]) + ctx[end:]
}

func splitPaths(s string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

const homeMarkdown = `# CurioQueries

This is the main page. Explore and have fun!

Open the **Ask** page, upload one or more documents and ask a question in plain language.
The answers found in your documents are ranked by the model's confidence.

Supported formats: %s

| key | action |
|-----|--------|
| tab | switch page |
| shift+tab | switch between files and question |
| enter | upload files / ask |
| up, down | browse answers |
| ctrl+c | quit |
`

func renderHome(formats []string, width int) string {
	md := fmt.Sprintf(homeMarkdown, strings.Join(formats, " "))
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath("dark"),
		glamour.WithWordWrap(max(20, width-4)),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	tabStyle       = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("8"))
	activeTabStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).Underline(true)
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)
