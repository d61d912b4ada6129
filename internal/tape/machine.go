// Package tape implements a small eight-instruction tape machine.
//
// The machine operates on a fixed-size tape of cells with a single cursor
// that saturates at both ends. Arithmetic wraps modulo 256. A cell loaded by
// ',' holds the full code point of the input rune until arithmetic reduces
// it, so a rune such as U+0100 is non-zero even though its low byte is. Reads past
// the end of the input yield zero, so a program can never block on input.
// Execution is bounded by a step budget: every instruction, including
// characters the machine does not recognise, consumes one step.
//
// A Machine is reusable but not safe for concurrent executions.
package tape

// DefaultSize is the number of cells on a fresh tape.
const DefaultSize = 1000

// Machine holds the tape, cursor and I/O queues of one interpreter.
type Machine struct {
	cells  []rune
	cursor int
	input  []rune
	output []rune
	steps  int
}

// New returns a machine with a tape of DefaultSize cells.
func New() *Machine {
	return NewWithSize(DefaultSize)
}

// NewWithSize returns a machine with a tape of size cells. Sizes below
// DefaultSize are raised to DefaultSize.
func NewWithSize(size int) *Machine {
	if size < DefaultSize {
		size = DefaultSize
	}
	return &Machine{cells: make([]rune, size)}
}

// Reset zeroes the tape and clears the cursor, input and output.
func (m *Machine) Reset() {
	clear(m.cells)
	m.cursor = 0
	m.input = m.input[:0]
	m.output = m.output[:0]
	m.steps = 0
}

// LoadInput queues data for consumption by the ',' instruction of the next
// execution. Bytes are consumed front to back.
func (m *Machine) LoadInput(data []byte) {
	m.input = m.input[:0]
	for _, b := range data {
		m.input = append(m.input, rune(b))
	}
}

// LoadString queues the runes of s as whole code points.
func (m *Machine) LoadString(s string) {
	m.input = append(m.input[:0], []rune(s)...)
}

// Execute runs code for at most maxSteps instructions. See Run.
func (m *Machine) Execute(code string, maxSteps int) bool {
	return m.Run(Compile(code), maxSteps)
}

// Run executes p against a fresh tape. It reports true when the program ran
// off its end having used fewer than maxSteps steps, and false when the
// budget was exhausted first. The queued input is consumed by the run and
// does not carry over to the next one.
func (m *Machine) Run(p *Program, maxSteps int) bool {
	clear(m.cells)
	m.cursor = 0
	m.output = m.output[:0]
	m.steps = 0

	input := m.input
	defer func() { m.input = m.input[:0] }()

	code := p.code
	ip := 0
	for ip < len(code) && m.steps < maxSteps {
		switch code[ip] {
		case OpRight:
			if m.cursor < len(m.cells)-1 {
				m.cursor++
			}
		case OpLeft:
			if m.cursor > 0 {
				m.cursor--
			}
		case OpInc:
			m.cells[m.cursor] = (m.cells[m.cursor] + 1) & 0xff
		case OpDec:
			m.cells[m.cursor] = (m.cells[m.cursor] - 1) & 0xff
		case OpOutput:
			m.output = append(m.output, m.cells[m.cursor])
		case OpInput:
			if len(input) > 0 {
				m.cells[m.cursor] = input[0]
				input = input[1:]
			} else {
				m.cells[m.cursor] = 0
			}
		case OpLoop:
			if m.cells[m.cursor] == 0 {
				ip = p.jumps[ip]
				m.steps++
				continue
			}
		case OpEnd:
			if m.cells[m.cursor] != 0 {
				ip = p.jumps[ip]
				m.steps++
				continue
			}
		}
		ip++
		m.steps++
	}

	return ip >= len(code) && m.steps < maxSteps
}

// Output returns the values written by the last execution as bytes. A code
// point above 255 that was written without arithmetic appears as its low byte.
func (m *Machine) Output() []byte {
	out := make([]byte, len(m.output))
	for i, v := range m.output {
		out[i] = byte(v)
	}
	return out
}

// OutputString returns the last execution's output as text, keeping only
// values in the 7-bit range. Anything from 128 up is dropped.
func (m *Machine) OutputString() string {
	buf := make([]byte, 0, len(m.output))
	for _, v := range m.output {
		if v <= 127 {
			buf = append(buf, byte(v))
		}
	}
	return string(buf)
}

// Steps returns the number of steps consumed by the last execution.
func (m *Machine) Steps() int {
	return m.steps
}

// Cell returns the value of cell i, or 0 when i is off the tape.
func (m *Machine) Cell(i int) rune {
	if i < 0 || i >= len(m.cells) {
		return 0
	}
	return m.cells[i]
}

// Cursor returns the current cursor position.
func (m *Machine) Cursor() int {
	return m.cursor
}

// Size returns the number of cells on the tape.
func (m *Machine) Size() int {
	return len(m.cells)
}
