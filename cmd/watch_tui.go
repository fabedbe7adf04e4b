// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/snappyd/pkg/server"
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// probeItem is one measurement source, keyed by its MAC
type probeItem struct {
	mac      string
	value    uint16
	pid      string
	count    uint64
	lastSeen time.Time
}

// Implement list.Item interface
func (p probeItem) Title() string { return p.mac }
func (p probeItem) Description() string {
	return fmt.Sprintf("value %d (0x%04x)  n=%d  %s ago",
		p.value, p.value, p.count, formatDuration(time.Since(p.lastSeen)))
}
func (p probeItem) FilterValue() string { return p.mac }

// watchLogEntry is one line of the event log
type watchLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// watchModel is the Bubble Tea model for the watch TUI
type watchModel struct {
	agent string

	// Probe tracking
	probes    map[string]*probeItem
	order     []string // insertion order keeps the list stable
	probeList list.Model

	// Event log
	eventLog      []watchLogEntry
	maxLogEntries int

	// Agent and device state
	deviceStatus  string
	agentLost     bool
	totalReadings uint64
	lastCount     uint64
	readingRate   float64

	// UI state
	startTime time.Time
	width     int
	height    int
	quitting  bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type watchTickMsg time.Time

type agentDataMsg struct {
	payload server.DataPayload
}

type agentPresenceMsg struct {
	status string
}

type agentAckMsg struct {
	result server.CommandResult
}

type agentLostMsg struct{}

type agentReconnectedMsg struct{}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialWatchModel(agent string) watchModel {
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	probeList := list.New([]list.Item{}, delegate, 40, 10)
	probeList.Title = "Probes"
	probeList.SetShowStatusBar(false)
	probeList.SetShowHelp(false)
	probeList.SetFilteringEnabled(false)

	return watchModel{
		agent:         agent,
		probes:        make(map[string]*probeItem),
		order:         make([]string, 0),
		probeList:     probeList,
		eventLog:      make([]watchLogEntry, 0),
		maxLogEntries: 100,
		deviceStatus:  "false",
		startTime:     time.Now(),
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m watchModel) Init() tea.Cmd {
	return watchTickCmd()
}

func watchTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case watchTickMsg:
		// Readings per second over the last tick
		m.readingRate = float64(m.totalReadings - m.lastCount)
		m.lastCount = m.totalReadings
		// Refresh the "n ago" descriptions
		m.refreshProbes()
		return m, watchTickCmd()

	case agentDataMsg:
		m.applyReading(msg.payload)

	case agentPresenceMsg:
		m.deviceStatus = msg.status
		if strings.HasPrefix(msg.status, "true") {
			m.addLogEntry(fmt.Sprintf("Device connected (%s)", msg.status), false)
		} else {
			m.addLogEntry("Device disconnected", true)
		}

	case agentAckMsg:
		r := msg.result
		if r.Success {
			m.addLogEntry(fmt.Sprintf("%s: %s", r.Command, r.Message), false)
		} else {
			m.addLogEntry(fmt.Sprintf("%s: %s", r.Command, r.Error), true)
		}

	case agentLostMsg:
		m.agentLost = true
		m.addLogEntry("Agent connection lost - reconnecting...", true)

	case agentReconnectedMsg:
		m.agentLost = false
		m.addLogEntry("Reconnected - collection restarted", false)
	}

	// Update the probe list component
	var cmd tea.Cmd
	m.probeList, cmd = m.probeList.Update(msg)
	return m, cmd
}

//////////////////////////////////////////////////////////////
// State Updates
//////////////////////////////////////////////////////////////

func (m *watchModel) applyReading(payload server.DataPayload) {
	m.totalReadings++

	probe, seen := m.probes[payload.MAC]
	if !seen {
		probe = &probeItem{mac: payload.MAC}
		m.probes[payload.MAC] = probe
		m.order = append(m.order, payload.MAC)
		m.addLogEntry(fmt.Sprintf("New probe %s", payload.MAC), false)
	}
	probe.value = payload.Value
	probe.pid = payload.PID
	probe.count++
	probe.lastSeen = time.Now()

	m.refreshProbes()
}

func (m *watchModel) refreshProbes() {
	items := make([]list.Item, 0, len(m.order))
	for _, mac := range m.order {
		items = append(items, *m.probes[mac])
	}
	m.probeList.SetItems(items)
}

func (m *watchModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, watchLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m *watchModel) updateListSize() {
	listWidth := m.width/2 - 4
	if listWidth < 30 {
		listWidth = 30
	}
	listHeight := m.height - 10
	if listHeight < 6 {
		listHeight = 6
	}
	m.probeList.SetSize(listWidth, listHeight)
}

// formatDuration renders an elapsed duration as a short human string.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m watchModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("SNAPPYD - LIVE MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Agent: %s | Press 'q' to quit", m.agent)))
	s.WriteString("\n\n")

	// Connection and device state
	if m.agentLost {
		s.WriteString(errorStyle.Render("✗ Agent connection lost - reconnecting..."))
		s.WriteString("\n\n")
	} else if strings.HasPrefix(m.deviceStatus, "true") {
		s.WriteString(valueStyle.Render("✓ Device connected"))
		s.WriteString(headerStyle.Render(" (" + m.deviceStatus + ")"))
		s.WriteString("\n\n")
	} else {
		s.WriteString(warningStyle.Render("⏳ Waiting for device..."))
		s.WriteString("\n\n")
	}

	// Session statistics
	statsContent := fmt.Sprintf("%s %s   %s %s   %s %s   %s %s",
		labelStyle.Render("Probes:"), valueStyle.Render(fmt.Sprintf("%d", len(m.probes))),
		labelStyle.Render("Readings:"), valueStyle.Render(fmt.Sprintf("%d", m.totalReadings)),
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.0f/s", m.readingRate)),
		labelStyle.Render("Uptime:"), valueStyle.Render(formatDuration(time.Since(m.startTime))),
	)
	s.WriteString(boxStyle.Render(statsContent))
	s.WriteString("\n\n")

	// Probe list beside the event log
	logHeight := m.height - 14
	if logHeight < 6 {
		logHeight = 6
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}
	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	logWidth := m.width/2 - 4
	if logWidth < 30 {
		logWidth = 30
	}
	columns := lipgloss.JoinHorizontal(lipgloss.Top,
		boxStyle.Render(m.probeList.View()),
		boxStyle.Width(logWidth).Render(logContent.String()),
	)
	s.WriteString(columns)

	return s.String()
}
