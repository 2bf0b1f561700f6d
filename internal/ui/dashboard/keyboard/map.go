package keyboard

import "github.com/charmbracelet/bubbles/key"

type Map struct {
	Reconnect key.Binding
	Renew     key.Binding
	Debug     key.Binding
	Logs      key.Binding
	Follow    key.Binding
	Quit      key.Binding
}

func New() Map {
	return Map{
		Reconnect: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "reconnect"),
		),
		Renew: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "renew token"),
		),
		Debug: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "debug logs"),
		),
		Logs: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "toggle logs"),
		),
		Follow: key.NewBinding(
			key.WithKeys("end", "G"),
			key.WithHelp("end", "follow"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

func (m Map) ShortHelp() []key.Binding {
	return []key.Binding{m.Reconnect, m.Renew, m.Debug, m.Logs, m.Quit}
}

func (m Map) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{m.Reconnect, m.Renew, m.Debug},
		{m.Logs, m.Follow, m.Quit},
	}
}
