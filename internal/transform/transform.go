// Package transform implements the byte-shift obfuscation used on the wire.
//
// Both directions are expressed as tape programs: encoding adds one to every
// input byte and decoding subtracts one. The output of either direction is
// filtered to the 7-bit range, so bytes that shift into 128-255 are lost.
// A NUL ends the input as far as the programs are concerned. Other runes are
// loaded as whole code points, so one above U+00FF never ends the input even
// when its low byte is zero.
//
// The transform never fails outright. When the machine cannot produce output
// the input is handed back unchanged and the Result is marked Passthrough.
package transform

import (
	"sync"

	"github.com/codefionn/bfrelay/internal/tape"
)

const (
	// EncodeProgram shifts every input byte up by one.
	EncodeProgram = ",[+.,]"
	// DecodeProgram shifts every input byte down by one.
	DecodeProgram = ",[-.,]"

	// DefaultStepBudget bounds a single encode or decode run.
	DefaultStepBudget = 50000

	// MaxPayloadLength is the longest text accepted by IsValidPayload.
	MaxPayloadLength = 1000
)

var (
	encodeCompiled = tape.Compile(EncodeProgram)
	decodeCompiled = tape.Compile(DecodeProgram)
)

// Result is the outcome of an encode or decode.
type Result struct {
	// Text is the transformed text, or the original input on passthrough.
	Text string
	// Passthrough is set when the machine failed or produced no output and
	// Text is the untouched input.
	Passthrough bool
}

// Codec runs the fixed programs on a machine it owns. It is safe for
// concurrent use.
type Codec struct {
	mu      sync.Mutex
	machine *tape.Machine
	budget  int
}

// NewCodec returns a codec that allows stepBudget steps per run. A
// non-positive budget selects DefaultStepBudget.
func NewCodec(stepBudget int) *Codec {
	if stepBudget <= 0 {
		stepBudget = DefaultStepBudget
	}
	return &Codec{
		machine: tape.New(),
		budget:  stepBudget,
	}
}

// Encode shifts text up by one byte per character.
func (c *Codec) Encode(text string) Result {
	return c.run(encodeCompiled, text)
}

// Decode shifts text down by one byte per character.
func (c *Codec) Decode(text string) Result {
	return c.run(decodeCompiled, text)
}

func (c *Codec) run(p *tape.Program, text string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.machine.Reset()
	c.machine.LoadString(text)
	if !c.machine.Run(p, c.budget) {
		return Result{Text: text, Passthrough: true}
	}

	out := c.machine.OutputString()
	if out == "" {
		return Result{Text: text, Passthrough: true}
	}
	return Result{Text: out}
}

// Budget returns the per-run step budget.
func (c *Codec) Budget() int {
	return c.budget
}

var defaultCodec = NewCodec(DefaultStepBudget)

// Encode shifts text up using the shared default codec.
func Encode(text string) Result {
	return defaultCodec.Encode(text)
}

// Decode shifts text down using the shared default codec.
func Decode(text string) Result {
	return defaultCodec.Decode(text)
}

// IsValidPayload reports whether text is acceptable chat input: between 1 and
// MaxPayloadLength characters, all printable ASCII (32 through 126).
func IsValidPayload(text string) bool {
	if text == "" {
		return false
	}

	n := 0
	for _, r := range text {
		n++
		if n > MaxPayloadLength {
			return false
		}
		if r < 32 || r > 126 {
			return false
		}
	}
	return true
}
