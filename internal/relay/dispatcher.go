package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/codefionn/bfrelay/internal/logger"
	"github.com/codefionn/bfrelay/internal/tape"
)

// Commands understood by the dispatcher.
const (
	CommandUsers = "/users"
	CommandTime  = "/time"
	CommandHelp  = "/help"
	CommandQuit  = "/quit"
	CommandBF    = "/bf "
)

const (
	// BFCannedInput is the input every /bf program reads from.
	BFCannedInput = "Hello!"
	// DefaultBFStepBudget bounds /bf programs.
	DefaultBFStepBudget = 5000
)

// Reply texts sent by the dispatcher.
const (
	HelpText = `Available Commands:
/users - Show connected users
/time - Show server time
/bf <code> - Execute a tape program against "Hello!"
/help - Show this help
/quit - Disconnect from chat`

	UnknownCommandText = "Unknown command. Type /help for available commands."
	BFFailureText      = "BF Error: Program failed or exceeded step limit"
	GoodbyeText        = "Goodbye"
)

// Replier is the slice of the registry the dispatcher needs.
type Replier interface {
	SendTo(id SessionID, text string) bool
	ListIDs() []SessionID
}

// Dispatcher answers slash commands. Every reply goes to the issuing
// session only.
type Dispatcher struct {
	replier  Replier
	bfBudget int
	now      func() time.Time
}

// NewDispatcher returns a dispatcher that runs /bf programs with bfBudget
// steps. A non-positive budget selects DefaultBFStepBudget.
func NewDispatcher(replier Replier, bfBudget int) *Dispatcher {
	if bfBudget <= 0 {
		bfBudget = DefaultBFStepBudget
	}
	return &Dispatcher{
		replier:  replier,
		bfBudget: bfBudget,
		now:      time.Now,
	}
}

// Dispatch handles one command line from id. It reports whether the session
// asked to disconnect.
func (d *Dispatcher) Dispatch(id SessionID, line string) (quit bool) {
	switch {
	case line == CommandUsers:
		d.reply(id, "Connected users: "+joinIDs(d.replier.ListIDs()))
	case line == CommandTime:
		d.reply(id, "Server time: "+d.now().Format(time.TimeOnly))
	case line == CommandHelp:
		d.reply(id, HelpText)
	case line == CommandQuit:
		d.reply(id, GoodbyeText)
		return true
	case strings.HasPrefix(line, CommandBF):
		d.reply(id, d.runBF(id, strings.TrimPrefix(line, CommandBF)))
	default:
		d.reply(id, UnknownCommandText)
	}
	return false
}

func (d *Dispatcher) runBF(id SessionID, code string) string {
	m := tape.New()
	m.LoadString(BFCannedInput)
	if !m.Execute(code, d.bfBudget) {
		logger.Debug("%s: /bf program exhausted %d steps", id, d.bfBudget)
		return BFFailureText
	}
	return fmt.Sprintf("BF Output: '%s'", m.OutputString())
}

func (d *Dispatcher) reply(id SessionID, text string) {
	if !d.replier.SendTo(id, text) {
		logger.Debug("Reply to %s dropped", id)
	}
}

func joinIDs(ids []SessionID) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return strings.Join(names, ", ")
}
