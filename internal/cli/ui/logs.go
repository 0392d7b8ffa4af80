package ui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"wpdock/pkg/sdk"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
)

const logLines = 200

// siteModel shows one site: its details, live job events and the tail of
// its container logs.
type siteModel struct {
	sub      chan sdk.Event
	viewport viewport.Model
	err      error
	ready    bool
	name     string
	site     *sdk.Site
	logs     string
	events   []string
	back     bool
	client   *sdk.Client
	width    int
	height   int
}

type eventMsg sdk.Event
type siteDetailsMsg *sdk.Site
type siteLogsMsg string
type siteErrMsg error

func waitForEvent(sub chan sdk.Event) tea.Cmd {
	return func() tea.Msg {
		if sub == nil {
			return nil
		}
		ev, ok := <-sub
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func getSiteDetails(client *sdk.Client, name string) tea.Cmd {
	return func() tea.Msg {
		site, err := client.GetSite(name)
		if err != nil {
			return siteErrMsg(err)
		}
		return siteDetailsMsg(site)
	}
}

func getSiteLogs(client *sdk.Client, name string) tea.Cmd {
	return func() tea.Msg {
		out, err := client.SiteLogs(name, logLines)
		if err != nil {
			return siteLogsMsg(fmt.Sprintf("logs unavailable: %v", err))
		}
		return siteLogsMsg(out)
	}
}

func (m siteModel) Init() tea.Cmd {
	return tea.Batch(
		waitForEvent(m.sub),
		getSiteDetails(m.client, m.name),
		getSiteLogs(m.client, m.name),
		tickCmd(),
	)
}

// describeEvent renders a job or progress frame as one line.
func describeEvent(ev sdk.Event) string {
	ts := time.Now().Format("15:04:05")
	switch ev.Type {
	case "job":
		var job sdk.Job
		if json.Unmarshal(ev.Data, &job) == nil {
			line := fmt.Sprintf("%s %s job %s", ts, job.Kind, job.State)
			if job.Error != "" {
				line += ": " + job.Error
			}
			return line
		}
	case "progress":
		var p sdk.ProgressEvent
		if json.Unmarshal(ev.Data, &p) == nil {
			return fmt.Sprintf("%s [%3.0f%%] %s", ts, p.Progress*100, p.Message)
		}
	}
	return fmt.Sprintf("%s %s", ts, ev.Type)
}

func (m *siteModel) render() {
	var b strings.Builder
	if len(m.events) > 0 {
		b.WriteString(titleStyle.Render("Events"))
		b.WriteString("\n")
		b.WriteString(strings.Join(m.events, "\n"))
		b.WriteString("\n\n")
	}
	b.WriteString(titleStyle.Render("Container logs"))
	b.WriteString("\n")
	b.WriteString(m.logs)
	m.viewport.SetContent(b.String())
}

func (m siteModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var vpCmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "esc":
			m.back = true
			return m, tea.Quit
		case "r":
			name := m.name
			return m, func() tea.Msg {
				if _, err := m.client.RestartSite(name); err != nil {
					return eventMsg(sdk.Event{Type: "restart failed: " + err.Error()})
				}
				return nil
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 10
		contentWidth := msg.Width - 6

		if !m.ready {
			m.viewport = viewport.New(contentWidth, msg.Height-headerHeight)
			m.viewport.YPosition = headerHeight
			m.ready = true
		} else {
			m.viewport.Width = contentWidth
			m.viewport.Height = msg.Height - headerHeight
		}
		m.render()

	case eventMsg:
		m.events = append(m.events, describeEvent(sdk.Event(msg)))
		if len(m.events) > 20 {
			m.events = m.events[len(m.events)-20:]
		}
		m.render()
		return m, waitForEvent(m.sub)

	case siteLogsMsg:
		m.logs = string(msg)
		atBottom := m.viewport.AtBottom()
		m.render()
		if atBottom {
			m.viewport.GotoBottom()
		}

	case siteDetailsMsg:
		m.site = msg

	case siteErrMsg:
		m.err = msg
		return m, tea.Quit

	case tickMsg:
		return m, tea.Batch(getSiteDetails(m.client, m.name), getSiteLogs(m.client, m.name), tickCmd())
	}

	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, vpCmd
}

func (m siteModel) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	title := headerStyle.Width(m.width).Render("SITE " + strings.ToUpper(m.name))

	info := "Loading site details..."
	if s := m.site; s != nil {
		statusStyle := lipgloss.NewStyle().Foreground(statusColor(s.Status))
		info = fmt.Sprintf(
			"%s %s  •  %s  •  Port: %d\nAdmin: %s  •  Plugins: %s",
			statusIcon(s.Status),
			statusStyle.Render(s.Status),
			s.SiteURL,
			s.WPPort,
			s.AdminUsername,
			strings.Join(s.Plugins, ", "),
		)
		if s.LastError != "" {
			info += "\nLast error: " + s.LastError
		}
	}

	headerBox := baseStyle.
		Width(m.width-4).
		Align(lipgloss.Center).
		Padding(0, 1).
		Render(info)

	console := baseStyle.
		Width(m.width - 4).
		Render(m.viewport.View())

	footerBox := footerStyle.
		Width(m.width - 4).
		Render(helpLine(
			[2]string{"↑/↓", "scroll"},
			[2]string{"r", "restart"},
			[2]string{"esc", "back"},
			[2]string{"q", "quit"},
		))

	return lipgloss.JoinVertical(lipgloss.Center,
		title,
		headerBox,
		console,
		footerBox,
	)
}

// RunSite opens the site view. It reports whether the operator asked to go
// back to the dashboard.
func RunSite(client *sdk.Client, name string) (bool, error) {
	var sub chan sdk.Event

	wsURL, err := client.GetWebSocketURL("/ws/sites/" + name)
	if err != nil {
		return false, err
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		defer conn.Close()
		sub = make(chan sdk.Event)
		go func() {
			defer close(sub)
			for {
				_, message, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var ev sdk.Event
				if json.Unmarshal(message, &ev) == nil {
					sub <- ev
				}
			}
		}()
	}

	p := tea.NewProgram(
		siteModel{sub: sub, name: name, client: client},
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	final, err := p.Run()
	if err != nil {
		return false, fmt.Errorf("error running site view: %w", err)
	}
	if m, ok := final.(siteModel); ok {
		return m.back, m.err
	}
	return false, nil
}
