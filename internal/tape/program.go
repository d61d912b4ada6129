package tape

// Instruction characters understood by the machine.
const (
	OpRight  = '>'
	OpLeft   = '<'
	OpInc    = '+'
	OpDec    = '-'
	OpOutput = '.'
	OpInput  = ','
	OpLoop   = '['
	OpEnd    = ']'
)

// Program is a source string with its bracket jump targets resolved.
//
// For a '[' at index i, jumps[i] is the index just past the matching ']'.
// For a ']' at index i, jumps[i] is the index just past the matching '['.
// Unmatched brackets get boundary targets: an unmatched '[' jumps to the end
// of the program and an unmatched ']' jumps back to the start.
type Program struct {
	code  string
	jumps []int
}

// Compile resolves the bracket structure of code. It never fails: a malformed
// program still compiles, with its unmatched brackets pinned to the program
// boundaries.
func Compile(code string) *Program {
	p := &Program{
		code:  code,
		jumps: make([]int, len(code)),
	}

	var open []int
	for i := 0; i < len(code); i++ {
		switch code[i] {
		case OpLoop:
			open = append(open, i)
		case OpEnd:
			if len(open) == 0 {
				p.jumps[i] = 0
				continue
			}
			start := open[len(open)-1]
			open = open[:len(open)-1]
			p.jumps[start] = i + 1
			p.jumps[i] = start + 1
		}
	}
	for _, start := range open {
		p.jumps[start] = len(code)
	}

	return p
}

// String returns the program source.
func (p *Program) String() string {
	return p.code
}

// Len returns the number of instructions, including no-op characters.
func (p *Program) Len() int {
	return len(p.code)
}

// Balanced reports whether every bracket in the program has a partner.
func (p *Program) Balanced() bool {
	depth := 0
	for i := 0; i < len(p.code); i++ {
		switch p.code[i] {
		case OpLoop:
			depth++
		case OpEnd:
			if depth == 0 {
				return false
			}
			depth--
		}
	}
	return depth == 0
}
