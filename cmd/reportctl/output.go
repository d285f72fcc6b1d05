package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
)

var (
	labelStyle = lipgloss.NewStyle().Width(16).Foreground(lipgloss.Color("7"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	linkStyle  = lipgloss.NewStyle().Underline(true).Foreground(lipgloss.Color("6"))
)

func printHeader(name, version string) {
	cyan := color.New(color.FgCyan, color.Bold)
	fmt.Println()
	cyan.Printf("%s %s\n", name, version)
	fmt.Println()
}

func printCondition(label string, ok bool, detail string) {
	mark := okStyle.Render("✓")
	if !ok {
		mark = badStyle.Render("✗")
	}
	fmt.Printf("%s %s %s\n", mark, labelStyle.Render(label), detail)
}

func printChannel(label, url string) {
	fmt.Printf("  %s %s\n", labelStyle.Render(label), linkStyle.Render(url))
}

func printSuccess(msg string) {
	green := color.New(color.FgGreen)
	green.Printf("✓ %s\n", msg)
}

func printError(msg string) {
	red := color.New(color.FgRed)
	red.Printf("✗ %s\n", msg)
}
