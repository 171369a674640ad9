// Package actuator turns an inbound chat message into an IDE agent-turn by
// driving the host IDE through platform-specific keystroke injection (spec
// §4.9). Its per-OS file selection (platform_darwin.go/platform_windows.go/
// platform_x11.go, each a newCapability behind a shared Capability
// interface) mirrors the teacher's cmd/ricochet/main.go findWhisperBinary
// (candidate paths keyed by runtime.GOOS), and runCommand's error wrapping
// is grounded on internal/whisper's exec.Command/CombinedOutput idiom,
// applied here to osascript/powershell/xdotool instead of a transcription
// binary.
package actuator

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// stepDelay separates each injection step to accommodate UI state settling
// (spec §4.9).
const stepDelay = 200 * time.Millisecond

// Capability is the platform-specific half of the Actuator, abstracted so
// the orchestration in Deliver never branches on GOOS itself (spec §9: "a
// capability interface {focusWindow(label?), paste(text), pressEnter()};
// three concrete implementations live behind it").
type Capability interface {
	FocusWindow(ctx context.Context, label string) error
	Paste(ctx context.Context, text string) error
	PressEnter(ctx context.Context, windowLabel string) error
	// RunIDECommand dispatches a named IDE command, optionally with an
	// argument (used for "open specific conversation" and "focus composer
	// input", spec §4.9 steps 3-4).
	RunIDECommand(ctx context.Context, command, arg string) error
}

// AccessibilityDeniedError wraps an underlying OS error recognized as an
// accessibility/permission denial, surfaced per spec §7 with
// platform-specific guidance.
type AccessibilityDeniedError struct {
	Platform string
	Err      error
}

func (e *AccessibilityDeniedError) Error() string {
	return fmt.Sprintf("%s: accessibility permission required: %v", e.Platform, e.Err)
}

func (e *AccessibilityDeniedError) Unwrap() error { return e.Err }

// Actuator delivers inbound chat messages to the IDE (spec §4.9).
type Actuator struct {
	cap         Capability
	openConvCmd string
	focusCmd    string
}

// New constructs an Actuator for the current OS. openConvCmd and focusCmd
// are the IDE command identifiers for "open specific conversation" and
// "focus composer input" (step 3-4); they are IDE-specific and supplied by
// the caller rather than hardcoded, since the IDE extension framework is
// out of scope (spec §1).
func New(openConvCmd, focusCmd string) (*Actuator, error) {
	cap, err := newCapability()
	if err != nil {
		return nil, err
	}
	return &Actuator{cap: cap, openConvCmd: openConvCmd, focusCmd: focusCmd}, nil
}

// windowLabel computes the window-identifying label from a workspace root
// (spec §4.9 step 1): the workspace folder's base name, which is how the
// IDE labels its window title.
func windowLabel(workspaceRoot string) string {
	trimmed := strings.TrimRight(workspaceRoot, "/\\")
	if idx := strings.LastIndexAny(trimmed, "/\\"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

// Deliver runs the full injection sequence of spec §4.9: focus the IDE
// window, open the target conversation, focus the composer, paste the
// staged text, and press Enter. threadID, when non-empty, is embedded as a
// directive block instructing the agent to reply via the post_to_thread
// tool.
func (a *Actuator) Deliver(ctx context.Context, workspaceRoot, conversationID, text, threadID string) error {
	label := windowLabel(workspaceRoot)

	if err := a.cap.FocusWindow(ctx, label); err != nil {
		return classify(err)
	}
	time.Sleep(stepDelay)

	if err := a.cap.RunIDECommand(ctx, a.openConvCmd, conversationID); err != nil {
		return classify(err)
	}
	time.Sleep(stepDelay)

	if err := a.cap.RunIDECommand(ctx, a.focusCmd, ""); err != nil {
		return classify(err)
	}
	time.Sleep(stepDelay)

	staged := stageText(text, threadID)
	if err := a.cap.Paste(ctx, staged); err != nil {
		return classify(err)
	}
	time.Sleep(stepDelay)

	if err := a.cap.PressEnter(ctx, label); err != nil {
		return classify(err)
	}
	return nil
}

// stageText prefixes text with a directive block naming the owning thread
// and instructing the agent to respond through the post_to_thread tool, per
// spec §4.9 step 5. When threadID is empty (no RPC context available), text
// is staged unmodified.
func stageText(text, threadID string) string {
	if threadID == "" {
		return text
	}
	return fmt.Sprintf("[Discord Thread: %s]\nRespond to this message using the post_to_thread tool.\n\n%s", threadID, text)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not authorized") || strings.Contains(msg, "accessibility") || strings.Contains(msg, "permission") {
		return &AccessibilityDeniedError{Platform: runtime.GOOS, Err: err}
	}
	return err
}

// runCommand executes a one-shot command, wrapping failures with the
// command line for diagnosability (teacher's exec.Command/CombinedOutput
// idiom).
func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "%s %s: %s", name, strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return nil
}

// runPipedCommand is runCommand with input fed on stdin, used by the
// clipboard tools (xclip/xsel) that read their payload from stdin rather
// than argv.
func runPipedCommand(ctx context.Context, input string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(input)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "%s %s: %s", name, strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return nil
}
