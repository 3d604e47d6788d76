package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Submit key.Binding
	Cancel key.Binding
	Quit   key.Binding
}

var keys = keyMap{
	Submit: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "analyze")),
	Cancel: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel task")),
	Quit:   key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
}
