package ui

import (
	"fmt"
	"os"
	"time"

	"wpdock/pkg/sdk"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type model struct {
	table     table.Model
	sites     []sdk.Site
	stats     *sdk.VPSStats
	err       error
	quit      bool
	open      string
	width     int
	height    int
	isLoading bool
	message   string
	client    *sdk.Client
}

type siteDataMsg struct {
	sites []sdk.Site
	stats *sdk.VPSStats
}

type errMsg error

type actionDoneMsg string

type clearMessageMsg struct{}

// RunDashboard shows the site table until the operator quits or opens a
// site. It returns the name of the site to open, or "".
func RunDashboard(client *sdk.Client) (string, error) {
	columns := []table.Column{
		{Title: "Sts", Width: 3},
		{Title: "Name", Width: 20},
		{Title: "Status", Width: 9},
		{Title: "URL", Width: 32},
		{Title: "Port", Width: 6},
		{Title: "Plugins", Width: 7},
		{Title: "Checked", Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	m := model{
		table:     t,
		isLoading: true,
		client:    client,
	}

	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithInput(os.Stdin), tea.WithOutput(os.Stdout))
	finalModel, err := program.Run()
	if err != nil {
		return "", fmt.Errorf("error running dashboard: %w", err)
	}

	if m, ok := finalModel.(model); ok {
		if m.err != nil {
			return "", m.err
		}
		if !m.quit {
			return m.open, nil
		}
	}
	return "", nil
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		fetchDataCmd(m.client),
		tickCmd(),
	)
}

func (m model) selected() string {
	row := m.table.SelectedRow()
	if len(row) > 1 {
		return row[1]
	}
	return ""
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quit = true
			return m, tea.Quit
		case "r":
			if name := m.selected(); name != "" {
				m.message = fmt.Sprintf("Restarting site %s...", name)
				return m, actionCmd(func() (string, error) {
					acc, err := m.client.RestartSite(name)
					if err != nil {
						return "", err
					}
					return acc.Message, nil
				})
			}
		case "b":
			if name := m.selected(); name != "" {
				m.message = fmt.Sprintf("Starting backup of %s...", name)
				return m, actionCmd(func() (string, error) {
					acc, err := m.client.CreateBackup(name)
					if err != nil {
						return "", err
					}
					return acc.Message, nil
				})
			}
		case "enter":
			if name := m.selected(); name != "" {
				m.open = name
				return m, tea.Quit
			}
		}
	case actionDoneMsg:
		m.message = string(msg)
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return clearMessageMsg{} })
	case clearMessageMsg:
		m.message = ""
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(msg.Width - 10)
		m.table.SetHeight(msg.Height - 12)
	case siteDataMsg:
		m.isLoading = false
		m.sites = msg.sites
		if msg.stats != nil {
			m.stats = msg.stats
		}
		m.updateTable()
		return m, nil
	case tickMsg:
		return m, tea.Batch(fetchDataCmd(m.client), tickCmd())
	case errMsg:
		m.err = msg
		return m, tea.Quit
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *model) updateTable() {
	rows := []table.Row{}
	for _, s := range m.sites {
		checked := "-"
		if s.LastChecked != nil {
			checked = s.LastChecked.Local().Format("15:04:05")
		}
		rows = append(rows, table.Row{
			statusIcon(s.Status),
			s.ProjectName,
			s.Status,
			s.SiteURL,
			fmt.Sprintf("%d", s.WPPort),
			fmt.Sprintf("%d", len(s.Plugins)),
			checked,
		})
	}
	m.table.SetRows(rows)
}

func (m model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := headerStyle.Render("WPDOCK")
	clock := subHeaderStyle.Render(time.Now().Format("Mon Jan 2 15:04:05"))

	host := "CPU: -  |  RAM: -"
	if m.stats != nil {
		host = fmt.Sprintf("CPU: %s%%  |  RAM: %s%%", m.stats.CPUUsage, m.stats.RAMUsage)
	}
	hostInfo := fmt.Sprintf("Daemon: %s  |  Sites: %d  |  %s", m.client.BaseURL(), len(m.sites), host)
	headerBox := baseStyle.
		Width(m.width-4).
		Align(lipgloss.Center).
		Padding(0, 1).
		Render(lipgloss.JoinVertical(lipgloss.Center, title, clock, " ", hostInfo))

	body := m.table.View()
	if m.isLoading {
		body = "Loading sites..."
	}
	tableContainer := baseStyle.
		Width(m.width - 4).
		Height(m.height - 12).
		Render(body)

	footerText := lipgloss.NewStyle().MarginLeft(2).Render(helpLine(
		[2]string{"↑/↓", "navigate"},
		[2]string{"r", "restart"},
		[2]string{"b", "backup"},
		[2]string{"enter", "open"},
		[2]string{"q", "quit"},
	))
	if m.message != "" {
		footerText = fmt.Sprintf("%s\n%s", messageStyle.Render(m.message), footerText)
	}

	return lipgloss.JoinVertical(lipgloss.Center,
		headerBox,
		tableContainer,
		footerText,
	)
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func actionCmd(fn func() (string, error)) tea.Cmd {
	return func() tea.Msg {
		msg, err := fn()
		if err != nil {
			return actionDoneMsg(err.Error())
		}
		return actionDoneMsg(msg)
	}
}

func fetchDataCmd(client *sdk.Client) tea.Cmd {
	return func() tea.Msg {
		sites, err := client.ListSites()
		if err != nil {
			return errMsg(err)
		}

		// Stats are missing until the first sample; the table still renders.
		stats, err := client.GetVPSStats()
		if err != nil {
			stats = nil
		}

		return siteDataMsg{sites: sites, stats: stats}
	}
}
