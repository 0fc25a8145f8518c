package ui

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Sprint color functions for building styled strings.
var (
	Bold        = color.New(color.Bold).SprintFunc()
	Dim         = color.New(color.Faint).SprintFunc()
	Cyan        = color.New(color.FgCyan).SprintFunc()
	Green       = color.New(color.FgGreen).SprintFunc()
	Red         = color.New(color.FgRed).SprintFunc()
	Yellow      = color.New(color.FgYellow).SprintFunc()
	BoldCyan    = color.New(color.Bold, color.FgCyan).SprintFunc()
	BoldGreen   = color.New(color.Bold, color.FgGreen).SprintFunc()
	BoldRed     = color.New(color.Bold, color.FgRed).SprintFunc()
	BoldYellow  = color.New(color.Bold, color.FgYellow).SprintFunc()
	BoldMagenta = color.New(color.Bold, color.FgMagenta).SprintFunc()
	BoldWhite   = color.New(color.Bold, color.FgWhite).SprintFunc()
)

// PrintBanner renders the greensched banner.
func PrintBanner(w io.Writer) {
	frame := color.New(color.FgGreen)
	brand := color.New(color.Bold, color.FgGreen)
	tag := color.New(color.Faint)

	fmt.Fprintln(w)
	frame.Fprintln(w, "   +-----------------------------+")
	brand.Fprintln(w, "   |  G R E E N S C H E D        |")
	frame.Fprintln(w, "   +-----------------------------+")
	tag.Fprintln(w, "   Deadline-bound green scheduling")
	fmt.Fprintln(w)
}

// machineColors is a palette of distinct bold colors for differentiating
// machines.
var machineColors = []func(a ...interface{}) string{
	BoldMagenta,
	BoldCyan,
	BoldYellow,
	BoldGreen,
	color.New(color.Bold, color.FgHiBlue).SprintFunc(),
	color.New(color.Bold, color.FgHiRed).SprintFunc(),
}

// colorIndex hashes an id to a palette index.
func colorIndex(id string) int {
	var h uint32
	for _, c := range id {
		h = h*31 + uint32(c)
	}
	return int(h % uint32(len(machineColors)))
}

// MachineTag returns a colored [machine-id] tag. Each machine ID gets a
// stable color from the palette.
func MachineTag(machineID string) string {
	c := machineColors[colorIndex(machineID)]
	return Dim("[") + c(machineID) + Dim("]")
}

// StatusIcon returns a colored status icon for compact table display.
func StatusIcon(status string) string {
	switch status {
	case "completed":
		return Green("✓")
	case "running":
		return Cyan("●")
	case "failed":
		return Red("✗")
	case "infeasible":
		return Yellow("⊘")
	case "cancelled":
		return Dim("⊘")
	default:
		return Dim("◌")
	}
}

// BrownShare colors the brown share of an energy total: green below 10%,
// yellow below 50%, red otherwise.
func BrownShare(brown, total float64) string {
	if total <= 0 {
		return Dim("n/a")
	}
	share := brown / total
	text := fmt.Sprintf("%.1f%%", 100*share)
	switch {
	case share < 0.1:
		return Green(text)
	case share < 0.5:
		return Yellow(text)
	default:
		return Red(text)
	}
}
