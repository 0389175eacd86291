// Package printer writes colored, human-readable CLI output.
package printer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hay-kot/criterio"

	"github.com/hay-kot/pgchat/internal/core/chat"
)

// ANSI color codes (Tokyo Night palette)
const (
	ColorReset     = "\033[0m"
	ColorRed       = "\033[38;2;215;95;107m"  // #d75f6b
	ColorGreen     = "\033[38;2;158;206;106m" // #9ece6a
	ColorYellow    = "\033[38;2;224;175;104m" // #e0af68
	ColorGray      = "\033[38;2;86;95;137m"   // #565f89
	ColorBold      = "\033[1m"
	ColorUnderline = "\033[4m"
)

const (
	Check = "✔"
	Cross = "✘"
	Dot   = "•"
)

// loginHint is appended to errors that a fresh login can fix.
const loginHint = "run 'pgchat login' to sign in again"

type ctxKey struct{}

// Printer writes formatted output. It is attached to the command context so
// every command reports errors the same way.
type Printer struct {
	writer io.Writer
}

func New(w io.Writer) *Printer {
	return &Printer{writer: w}
}

// NewContext returns a context carrying p.
func NewContext(ctx context.Context, p *Printer) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// Ctx returns the printer attached to ctx, or one writing to stderr.
func Ctx(ctx context.Context) *Printer {
	if p, ok := ctx.Value(ctxKey{}).(*Printer); ok {
		return p
	}
	return New(os.Stderr)
}

// FatalError prints err in a boxed block. It does not exit. Validation
// failures list one field per line; authentication failures get a login hint.
func (p *Printer) FatalError(err error) {
	if err == nil {
		return
	}

	var fieldErrs criterio.FieldErrors
	if errors.As(err, &fieldErrs) {
		p.printValidationErrors(err, fieldErrs)
		return
	}

	title := "Error"
	if chat.IsAuth(err) {
		title = "Authentication Error"
	}

	p.line(p.colorize(ColorRed, "╭ " + title))
	p.line(p.bar() + " " + p.colorize(ColorGray, err.Error()))
	if chat.IsAuth(err) && !strings.Contains(err.Error(), "pgchat login") {
		p.line(p.bar() + " " + p.colorize(ColorYellow, loginHint))
	}
	p.line(p.colorize(ColorRed, "╵"))
}

// printValidationErrors prints the wrapping context of err, e.g.
// "load config: invalid config", followed by each field error.
func (p *Printer) printValidationErrors(err error, fieldErrs criterio.FieldErrors) {
	var prefix string
	if idx := strings.Index(err.Error(), fieldErrs.Error()); idx > 0 {
		prefix = strings.TrimSuffix(err.Error()[:idx], ": ")
	}

	p.line(p.colorize(ColorRed, "╭ Validation Error"))
	if prefix != "" {
		p.line(p.bar() + " " + p.colorize(ColorGray, prefix))
		p.line(p.bar())
	}

	for _, fe := range fieldErrs {
		line := p.bar() + " " + p.colorize(ColorRed, Cross) + " "
		if fe.Field != "" {
			line += p.colorize(ColorGray, fe.Field+": ")
		}
		p.line(line + fe.Err.Error())
	}

	p.line(p.colorize(ColorRed, "╵"))
}

func (p *Printer) Errorf(format string, args ...any) {
	p.line(p.colorize(ColorRed, Cross+" "+fmt.Sprintf(format, args...)))
}

func (p *Printer) Successf(format string, args ...any) {
	p.line(p.colorize(ColorGreen, Check+" "+fmt.Sprintf(format, args...)))
}

// Success prints message with optional details indented below it.
func (p *Printer) Success(message string, details string) {
	p.line(p.colorize(ColorGreen, Check+" "+message))
	if details != "" {
		p.line("  " + p.colorize(ColorGray, details))
	}
}

func (p *Printer) Infof(format string, args ...any) {
	p.line(p.colorize(ColorGray, Dot+" "+fmt.Sprintf(format, args...)))
}

// Printf prints a plain line.
func (p *Printer) Printf(format string, args ...any) {
	p.line(fmt.Sprintf(format, args...))
}

func (p *Printer) Bold(text string) string {
	return ColorBold + text + ColorReset
}

// Section prints a bold, underlined header.
func (p *Printer) Section(title string) {
	p.line(ColorBold + ColorUnderline + title + ColorReset)
}

func (p *Printer) CheckItem(label, detail string) {
	p.printItem(ColorGreen, Check, label, detail)
}

func (p *Printer) WarnItem(label, detail string) {
	p.printItem(ColorYellow, Dot, label, detail)
}

func (p *Printer) FailItem(label, detail string) {
	p.printItem(ColorRed, Cross, label, detail)
}

func (p *Printer) printItem(color, symbol, label, detail string) {
	line := "  " + p.colorize(color, symbol) + " " + label
	if detail != "" {
		line += ": " + detail
	}
	p.line(line)
}

func (p *Printer) bar() string {
	return p.colorize(ColorRed, "│")
}

func (p *Printer) line(s string) {
	_, _ = io.WriteString(p.writer, s+"\n")
}

func (p *Printer) colorize(color, text string) string {
	return color + text + ColorReset
}

// StatusFailed returns a red cross with msg for inline use in tables.
func StatusFailed(msg string) string {
	return ColorRed + Cross + ColorReset + " " + msg
}
