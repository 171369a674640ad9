//go:build darwin

package actuator

import (
	"context"
	"fmt"
	"strings"
)

// darwinCapability drives the IDE via AppleScript (osascript), the same
// exec.Command-to-a-named-binary shape the teacher uses for whisper-cli.
type darwinCapability struct{}

func newCapability() (Capability, error) {
	return &darwinCapability{}, nil
}

func (darwinCapability) FocusWindow(ctx context.Context, label string) error {
	script := fmt.Sprintf(`tell application "System Events" to set frontmost of first process whose name contains %q to true`, label)
	return runCommand(ctx, "osascript", "-e", script)
}

func (darwinCapability) Paste(ctx context.Context, text string) error {
	escaped := strings.ReplaceAll(text, `"`, `\"`)
	setClip := fmt.Sprintf(`set the clipboard to "%s"`, escaped)
	if err := runCommand(ctx, "osascript", "-e", setClip); err != nil {
		return err
	}
	return runCommand(ctx, "osascript", "-e", `tell application "System Events" to keystroke "v" using command down`)
}

func (darwinCapability) PressEnter(ctx context.Context, windowLabel string) error {
	return runCommand(ctx, "osascript", "-e", `tell application "System Events" to key code 36`)
}

// RunIDECommand opens the command palette and types the command identifier
// (optionally suffixed with an argument), the same palette-driven
// invocation the IDE's own keybindings use.
func (darwinCapability) RunIDECommand(ctx context.Context, command, arg string) error {
	if command == "" {
		return nil
	}
	if err := runCommand(ctx, "osascript", "-e", `tell application "System Events" to keystroke "p" using {command down, shift down}`); err != nil {
		return err
	}

	invocation := command
	if arg != "" {
		invocation += " " + arg
	}
	escaped := strings.ReplaceAll(invocation, `"`, `\"`)
	if err := runCommand(ctx, "osascript", "-e", fmt.Sprintf(`tell application "System Events" to keystroke "%s"`, escaped)); err != nil {
		return err
	}
	return runCommand(ctx, "osascript", "-e", `tell application "System Events" to key code 36`)
}
