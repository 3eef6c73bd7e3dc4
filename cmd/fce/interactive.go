package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mengsuenyan/fce/config"
	"github.com/mengsuenyan/fce/itype"
	"github.com/mengsuenyan/fce/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	moduleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD580"))

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type interactiveModel struct {
	err        error
	rt         *runtime.Runtime
	configFile string
	result     string
	funcs      []funcInfo
	inputs     []textinput.Model
	selected   int
	focusIdx   int
	state      modelState
}

type funcInfo struct {
	module string
	name   string
	sig    itype.FuncSignature
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

func newInteractiveModel(configFile string) *interactiveModel {
	return &interactiveModel{
		configFile: configFile,
		state:      stateSelectFunc,
	}
}

type loadedMsg struct {
	err   error
	rt    *runtime.Runtime
	funcs []funcInfo
}

type callResultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadConfig
}

func (m *interactiveModel) loadConfig() tea.Msg {
	ctx := context.Background()

	cfg, err := config.Load(m.configFile)
	if err != nil {
		return loadedMsg{err: err}
	}

	rt := runtime.New()
	if err := rt.LoadConfig(ctx, cfg); err != nil {
		rt.Close(ctx)
		return loadedMsg{err: err}
	}
	if err := rt.Link(); err != nil {
		rt.Close(ctx)
		return loadedMsg{err: err}
	}

	var funcs []funcInfo
	for _, name := range rt.Modules() {
		iface, err := rt.ModuleInterface(name)
		if err != nil {
			continue
		}
		for _, fn := range iface.Exports {
			funcs = append(funcs, funcInfo{module: name, name: fn.Name, sig: fn})
		}
	}
	if len(funcs) == 0 {
		rt.Close(ctx)
		return loadedMsg{err: fmt.Errorf("config exposes no exported functions")}
	}

	return loadedMsg{funcs: funcs, rt: rt}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state == stateInputArgs && msg.String() == "q" {
				break // "q" is a legitimate text character here
			}
			if m.rt != nil {
				m.rt.Close(context.Background())
			}
			return m, tea.Quit

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.funcs = msg.funcs
		m.rt = msg.rt

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) prepareInputs() {
	f := m.funcs[m.selected]
	m.inputs = make([]textinput.Model, len(f.sig.Params))
	for i, p := range f.sig.Params {
		ti := textinput.New()
		ti.Placeholder = p.Type.String()
		ti.Prompt = p.Name + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) callFunction() tea.Msg {
	ctx := context.Background()
	f := m.funcs[m.selected]

	args, err := assembleArgs(f.sig, m.inputs)
	if err != nil {
		return callResultMsg{err: err}
	}

	out, err := m.rt.CallJSON(ctx, f.module, f.name, args)
	if err != nil {
		return callResultMsg{err: err}
	}
	return callResultMsg{result: string(out)}
}

// assembleArgs builds the JSON argument array from raw prompt inputs.
// Strings are quoted; numbers, lists and records pass through as the JSON
// the user typed.
func assembleArgs(sig itype.FuncSignature, inputs []textinput.Model) ([]byte, error) {
	parts := make([]json.RawMessage, len(inputs))
	for i, input := range inputs {
		raw := strings.TrimSpace(input.Value())
		if sig.Params[i].Type.Kind == itype.KindString && !strings.HasPrefix(raw, `"`) {
			quoted, err := json.Marshal(raw)
			if err != nil {
				return nil, err
			}
			parts[i] = quoted
			continue
		}
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("argument %q is not valid JSON: %s", sig.Params[i].Name, raw)
		}
		parts[i] = json.RawMessage(raw)
	}
	return json.Marshal(parts)
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if len(m.funcs) == 0 {
		return "Loading modules..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("FCE"))
	b.WriteString(" ")
	b.WriteString(m.configFile)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		b.WriteString("Select a function to call:\n\n")
		for i, f := range m.funcs {
			cursor := "  "
			if i == m.selected {
				cursor = "> "
				b.WriteString(selectedStyle.Render(cursor + m.formatFunc(f)))
			} else {
				b.WriteString(cursor + m.formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s.%s\n\n",
			moduleStyle.Render(f.module), funcStyle.Render(f.name)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(f.sig.Params[i].Type.String()))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s.%s:\n\n",
			moduleStyle.Render(f.module), funcStyle.Render(f.name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) formatFunc(f funcInfo) string {
	var params []string
	for _, p := range f.sig.Params {
		params = append(params, p.Name+": "+typeStyle.Render(p.Type.String()))
	}
	result := ""
	for i, res := range f.sig.Results {
		if i == 0 {
			result = " -> " + typeStyle.Render(res.String())
		} else {
			result += ", " + typeStyle.Render(res.String())
		}
	}
	return moduleStyle.Render(f.module) + "." + funcStyle.Render(f.name) +
		"(" + strings.Join(params, ", ") + ")" + result
}

func runInteractive(configFile string) error {
	p := tea.NewProgram(newInteractiveModel(configFile), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
